package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gymowl/gymowl/pkg/billing"
	"github.com/gymowl/gymowl/pkg/tenants"
)

type mockS3Client struct {
	mu        sync.Mutex
	objects   map[string][]byte
	metadata  map[string]map[string]string
	putErr    error
	headErr   error
	createErr error
	created   []string
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
	}
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(params.Bucket) + "/" + aws.ToString(params.Key)
	m.objects[key] = data
	m.metadata[key] = params.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.created = append(m.created, aws.ToString(params.Bucket))
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

func testInvoice() *billing.Invoice {
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	return &billing.Invoice{
		ID:            "inv-1",
		InvoiceNumber: "INV-2401-0001",
		TenantID:      "gym-1",
		Amount:        decimal.NewFromInt(999),
		Tax:           decimal.RequireFromString("179.82"),
		TotalAmount:   decimal.RequireFromString("1178.82"),
		Currency:      billing.DefaultCurrency,
		Status:        billing.InvoiceStatusSent,
		IssueDate:     issued,
		DueDate:       issued.AddDate(0, 0, 7),
	}
}

func TestS3Archiver_Key(t *testing.T) {
	a := newS3Archiver(newMockS3Client(), "bucket", "", nil)
	assert.Equal(t, "invoices/gym-1/INV-2401-0001.json", a.Key("gym-1", "INV-2401-0001"))

	custom := newS3Archiver(newMockS3Client(), "bucket", "billing/docs", nil)
	assert.Equal(t, "billing/docs/gym-1/INV-2401-0001.json", custom.Key("gym-1", "INV-2401-0001"))
}

func TestS3Archiver_Archive(t *testing.T) {
	client := newMockS3Client()
	a := newS3Archiver(client, "gymowl-invoices", "invoices", nil)
	a.now = func() time.Time { return time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC) }

	tenant := &tenants.Tenant{
		TenantID:       "gym-1",
		Name:           "Iron Temple",
		Domain:         "iron.gymowl.test",
		ContactEmail:   "owner@iron.gymowl.test",
		BillingAddress: "12 MG Road, Bengaluru",
	}
	require.NoError(t, a.Archive(context.Background(), tenant, testInvoice()))

	key := "gymowl-invoices/invoices/gym-1/INV-2401-0001.json"
	require.Contains(t, client.objects, key)
	assert.Equal(t, "INV-2401-0001", client.metadata[key]["invoice-number"])

	var doc Document
	require.NoError(t, json.Unmarshal(client.objects[key], &doc))
	assert.Equal(t, "Iron Temple", doc.BillTo.Name)
	assert.Equal(t, "12 MG Road, Bengaluru", doc.BillTo.BillingAddress)
	assert.Equal(t, "1178.82", doc.Invoice.TotalAmount.StringFixed(2))
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 1, 0, time.UTC), doc.ArchivedAt)
}

func TestS3Archiver_ArchiveError(t *testing.T) {
	client := newMockS3Client()
	client.putErr = errors.New("access denied")
	a := newS3Archiver(client, "bucket", "", nil)

	err := a.Archive(context.Background(), nil, testInvoice())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INV-2401-0001")
}

func TestS3Archiver_EnsureBucket(t *testing.T) {
	t.Run("exists", func(t *testing.T) {
		client := newMockS3Client()
		require.NoError(t, newS3Archiver(client, "bucket", "", nil).ensureBucket(context.Background()))
		assert.Empty(t, client.created)
	})

	t.Run("missing is created", func(t *testing.T) {
		client := newMockS3Client()
		client.headErr = &types.NotFound{}
		require.NoError(t, newS3Archiver(client, "bucket", "", nil).ensureBucket(context.Background()))
		assert.Equal(t, []string{"bucket"}, client.created)
	})

	t.Run("creation race", func(t *testing.T) {
		client := newMockS3Client()
		client.headErr = &types.NotFound{}
		client.createErr = &types.BucketAlreadyOwnedByYou{}
		assert.NoError(t, newS3Archiver(client, "bucket", "", nil).ensureBucket(context.Background()))
	})

	t.Run("head failure", func(t *testing.T) {
		client := newMockS3Client()
		client.headErr = errors.New("forbidden")
		assert.Error(t, newS3Archiver(client, "bucket", "", nil).ensureBucket(context.Background()))
	})
}
