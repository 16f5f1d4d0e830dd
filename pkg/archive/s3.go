package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/observability"
	"github.com/gymowl/gymowl/pkg/tenants"
)

var tracer = otel.Tracer("github.com/gymowl/gymowl/pkg/archive")

// Config holds S3 connection settings for the invoice archive
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool

	// CreateBucket creates the bucket on start when it is missing. Meant for
	// local MinIO setups.
	CreateBucket bool
}

// objectAPI is the subset of the S3 client the archiver calls
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// BillTo is the tenant identity printed on an invoice
type BillTo struct {
	TenantID       string `json:"tenant_id"`
	Name           string `json:"name"`
	Domain         string `json:"domain"`
	ContactEmail   string `json:"contact_email"`
	BillingAddress string `json:"billing_address,omitempty"`
}

// Document is the JSON object written for each invoice. The PDF renderer
// and mailer consume it from the bucket.
type Document struct {
	Invoice    *billing.Invoice `json:"invoice"`
	BillTo     BillTo           `json:"bill_to"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// S3Archiver writes invoice documents to S3
type S3Archiver struct {
	client objectAPI
	bucket string
	prefix string
	logger *observability.Logger
	now    func() time.Time
}

// NewS3Archiver creates an archiver from cfg. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg Config, logger *observability.Logger) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	a := newS3Archiver(client, cfg.Bucket, cfg.Prefix, logger)
	if cfg.CreateBucket {
		if err := a.ensureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
		}
	}
	return a, nil
}

func newS3Archiver(client objectAPI, bucket, prefix string, logger *observability.Logger) *S3Archiver {
	if prefix == "" {
		prefix = "invoices"
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.WithField("component", "invoice_archive"),
		now:    time.Now,
	}
}

// Key returns the object key for an invoice: {prefix}/{tenant}/{number}.json
func (a *S3Archiver) Key(tenantID, invoiceNumber string) string {
	return path.Join(a.prefix, tenantID, invoiceNumber+".json")
}

// Archive uploads the invoice document. Writing the same invoice twice
// replaces the earlier object.
func (a *S3Archiver) Archive(ctx context.Context, tenant *tenants.Tenant, inv *billing.Invoice) error {
	key := a.Key(inv.TenantID, inv.InvoiceNumber)
	ctx, span := tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.String("invoice.number", inv.InvoiceNumber),
		),
	)
	defer span.End()

	doc := Document{Invoice: inv, ArchivedAt: a.now().UTC()}
	if tenant != nil {
		doc.BillTo = BillTo{
			TenantID:       tenant.TenantID,
			Name:           tenant.Name,
			Domain:         tenant.Domain,
			ContactEmail:   tenant.ContactEmail,
			BillingAddress: tenant.BillingAddress,
		}
	}

	body, err := json.Marshal(doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode invoice")
		return fmt.Errorf("failed to encode invoice %s: %w", inv.InvoiceNumber, err)
	}
	span.SetAttributes(attribute.Int("content.size", len(body)))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"tenant-id":      inv.TenantID,
			"invoice-number": inv.InvoiceNumber,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return fmt.Errorf("failed to upload invoice %s: %w", inv.InvoiceNumber, err)
	}

	span.SetStatus(codes.Ok, "invoice archived")
	a.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"invoice_number": inv.InvoiceNumber,
		"key":            key,
	}).Debug("Invoice archived")
	return nil
}

func (a *S3Archiver) ensureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to check bucket: %w", err)
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil && !isBucketOwned(err) {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	a.logger.WithField("bucket", a.bucket).Info("Created invoice archive bucket")
	return nil
}

func isBucketOwned(err error) bool {
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	return errors.As(err, &owned) || errors.As(err, &exists)
}
