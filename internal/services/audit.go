package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/ridepool/ridepool-backend/internal/settlement"
)

// SettlementAuditLog persists one compact JSON entry per successful capture,
// to S3 when AWS credentials are configured and a local directory otherwise.
type SettlementAuditLog struct {
	uploader *s3manager.Uploader
	bucket   string
	dir      string
	useS3    bool
}

// NewSettlementAuditLog initializes either S3 or local storage based on configuration
func NewSettlementAuditLog(bucket, dir string) (*SettlementAuditLog, error) {
	awsRegion := os.Getenv("AWS_REGION")
	awsAccessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	awsSecretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")

	if bucket != "" && awsRegion != "" && awsAccessKey != "" && awsSecretKey != "" {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(awsRegion),
			Credentials: credentials.NewStaticCredentials(
				awsAccessKey,
				awsSecretKey,
				"", // Token (optional)
			),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %v", err)
		}
		fmt.Println("✅ AWS S3 audit storage initialized successfully")
		return &SettlementAuditLog{
			uploader: s3manager.NewUploader(sess),
			bucket:   bucket,
			useS3:    true,
		}, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %v", err)
	}
	fmt.Println("⚠️  AWS S3 not configured. Using local audit storage (not recommended for production)")
	return &SettlementAuditLog{dir: dir}, nil
}

func (a *SettlementAuditLog) Record(ctx context.Context, e settlement.AuditEntry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %v", err)
	}

	settled := time.UnixMilli(e.SettledAt).UTC()
	name := fmt.Sprintf("settlements/%s/%s.json", settled.Format("2006/01"), e.BookingID)

	if a.useS3 {
		_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(name),
			Body:        bytes.NewReader(payload),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return fmt.Errorf("failed to upload audit entry: %v", err)
		}
		return nil
	}

	path := filepath.Join(a.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %v", err)
	}
	if err := os.WriteFile(path, payload, 0644); err != nil {
		return fmt.Errorf("failed to write audit entry: %v", err)
	}
	return nil
}
