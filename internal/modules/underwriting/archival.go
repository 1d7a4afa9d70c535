package underwriting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// archivalTimeout bounds every upload, matching spec.md §5's "every
// external call has an explicit timeout" posture.
const archivalTimeout = 30 * time.Second

// ArchivalExporter uploads superseded-version GridRow/ExactResult batches
// to S3 before local garbage collection, grounded on aristath-sentinel's
// internal/reliability/r2_backup_service.go backup-then-rotate shape
// (stage a batch, upload, then delete locally on success) — generalized
// from its whole-database tar/gzip archive to per-listing-version JSON
// batches, since spec.md §3 "garbage collection is a background concern,
// not a correctness one" scopes this to superseded rows rather than
// entire databases.
type ArchivalExporter struct {
	repo     *Repository
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewArchivalExporter builds an S3-backed exporter. When accessKeyID is
// non-empty, credentials are pinned via a static provider (the common case
// for an S3-compatible endpoint without an IAM role); otherwise resolution
// follows the default aws-sdk-go-v2 provider chain (env vars, shared
// config, EC2/ECS role).
func NewArchivalExporter(ctx context.Context, repo *Repository, bucket, prefix, accessKeyID, secretAccessKey string, log zerolog.Logger) (*ArchivalExporter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if accessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &ArchivalExporter{
		repo:     repo,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
		log:      log.With().Str("component", "underwriting_archival").Logger(),
	}, nil
}

// archiveBatch is one uploaded JSON document: the grid rows of one
// superseded listingVersion, or all exact results below the current
// version, labelled with that current version.
type archiveBatch struct {
	ListingID      string        `json:"listingId"`
	ListingVersion int64         `json:"listingVersion"`
	ArchivedAt     time.Time     `json:"archivedAt"`
	GridRows       []GridRow     `json:"gridRows,omitempty"`
	ExactResults   []ExactResult `json:"exactResults,omitempty"`
}

// ArchiveSupersededVersions uploads every grid row and exact result for
// (listingID, version < currentVersion) to S3, then deletes them locally
// once the upload succeeds — never the reverse, so a failed upload never
// loses data.
func (a *ArchivalExporter) ArchiveSupersededVersions(ctx context.Context, listingID string, currentVersion int64, now time.Time) error {
	versions, err := a.repo.GetSupersededGridListingVersions(listingID, currentVersion)
	if err != nil {
		return err
	}

	for _, version := range versions {
		rows, err := a.repo.GetGridRowsForVersion(listingID, version)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		batch := archiveBatch{ListingID: listingID, ListingVersion: version, ArchivedAt: now, GridRows: rows}
		if err := a.upload(ctx, listingID, version, batch); err != nil {
			a.log.Warn().Err(err).Str("listing_id", listingID).Int64("listing_version", version).Msg("archival upload failed, leaving rows in place")
			continue
		}
		if err := a.repo.DeleteGridRows(listingID, version); err != nil {
			return err
		}
		a.log.Info().Str("listing_id", listingID).Int64("listing_version", version).Int("row_count", len(rows)).Msg("archived and deleted superseded grid rows")
	}

	exact, err := a.repo.GetExactResultsOlderThan(listingID, currentVersion)
	if err != nil {
		return err
	}
	if len(exact) > 0 {
		batch := archiveBatch{ListingID: listingID, ListingVersion: currentVersion, ArchivedAt: now, ExactResults: exact}
		if err := a.upload(ctx, listingID, currentVersion, batch); err != nil {
			a.log.Warn().Err(err).Str("listing_id", listingID).Msg("exact result archival upload failed, leaving rows in place")
			return nil
		}
		ids := make([]string, len(exact))
		for i, e := range exact {
			ids[i] = e.ResultID
		}
		if err := a.repo.DeleteExactResults(ids); err != nil {
			return err
		}
		a.log.Info().Str("listing_id", listingID).Int("result_count", len(exact)).Msg("archived and deleted superseded exact results")
	}

	return nil
}

func (a *ArchivalExporter) upload(ctx context.Context, listingID string, version int64, batch archiveBatch) error {
	uploadCtx, cancel := context.WithTimeout(ctx, archivalTimeout)
	defer cancel()

	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s/%s/v%d.json", a.prefix, listingID, version)
	_, err = a.uploader.Upload(uploadCtx, &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(body),
	})
	return err
}
