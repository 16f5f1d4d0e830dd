// Package archive stores generated invoices as JSON documents in S3, where
// the PDF renderer and mailer pick them up.
package archive
