// Package archive stores the raw bodies of staged messages in GCS, out of
// band from the staging store. The archive is audit material only; losing a
// write never blocks staging.
package archive

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCSArchiver writes raw message bodies under raw/<account>/<messageID>.txt.
// It assumes Application Default Credentials are configured.
type GCSArchiver struct {
	client *storage.Client
	bucket string
}

// NewGCSArchiver creates an archiver over the given bucket.
func NewGCSArchiver(client *storage.Client, bucket string) *GCSArchiver {
	return &GCSArchiver{client: client, bucket: bucket}
}

// Archive uploads the body and returns the gs:// URI of the stored object.
func (a *GCSArchiver) Archive(ctx context.Context, accountID, messageID string, body []byte) (string, error) {
	objectName := fmt.Sprintf("raw/%s/%s.txt", accountID, messageID)

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload %s: %w", objectName, err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}
