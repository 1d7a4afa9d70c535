package listings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/propyield/platform/internal/apperr"
	"github.com/propyield/platform/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	id                 TEXT PRIMARY KEY,
	mls_number         TEXT NOT NULL,
	source             TEXT NOT NULL,
	status             TEXT NOT NULL,
	listed_at          TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	address            TEXT NOT NULL,
	property_type      TEXT NOT NULL,
	beds               INTEGER NOT NULL,
	baths              REAL NOT NULL,
	sqft               INTEGER,
	list_price         REAL NOT NULL,
	taxes_annual       REAL,
	condo_fee_monthly  REAL,
	media              TEXT NOT NULL,
	brokerage          TEXT,
	listing_version    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS watermarks (
	source     TEXT PRIMARY KEY,
	updated_at TEXT NOT NULL
)`

// Reader is the bounded read-only interface other services depend on
// (spec.md §4.2 "bounded read-only interfaces").
type Reader interface {
	GetByID(id string) (*Listing, error)
}

// Repository is the Listing versioned state store (C2) plus watermark
// tracking for the Ingestor's poll loop.
type Repository struct {
	db *database.DB
}

// NewRepository opens/initializes the listings schema on db.
func NewRepository(db *database.DB) (*Repository, error) {
	if err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

// GetByID returns a listing or apperr.ErrNotFound.
func (r *Repository) GetByID(id string) (*Listing, error) {
	row := r.db.Conn.QueryRow(
		`SELECT id, mls_number, source, status, listed_at, updated_at, address, property_type,
		        beds, baths, sqft, list_price, taxes_annual, condo_fee_monthly, media, brokerage, listing_version
		 FROM listings WHERE id = ?`, id)
	l, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, apperr.New(apperr.NotFound, "listings.GetByID", "listing not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "listings.GetByID", "query failed", err)
	}
	return l, nil
}

// Search lists listings matching the optional filters, paginated.
func (r *Repository) Search(city, province string, propertyType PropertyType, status Status, minBeds, maxBeds int, minPrice, maxPrice float64, limit, offset int) ([]*Listing, int, error) {
	where := "WHERE 1=1"
	var args []interface{}
	if city != "" {
		where += " AND address LIKE ?"
		args = append(args, "%\"city\":\""+city+"\"%")
	}
	if province != "" {
		where += " AND address LIKE ?"
		args = append(args, "%\"province\":\""+province+"\"%")
	}
	if propertyType != "" {
		where += " AND property_type = ?"
		args = append(args, string(propertyType))
	}
	if status != "" {
		where += " AND status = ?"
		args = append(args, string(status))
	}
	if minBeds > 0 {
		where += " AND beds >= ?"
		args = append(args, minBeds)
	}
	if maxBeds > 0 {
		where += " AND beds <= ?"
		args = append(args, maxBeds)
	}
	if minPrice > 0 {
		where += " AND list_price >= ?"
		args = append(args, minPrice)
	}
	if maxPrice > 0 {
		where += " AND list_price <= ?"
		args = append(args, maxPrice)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM listings " + where
	if err := r.db.Conn.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(apperr.Transient, "listings.Search", "count failed", err)
	}

	query := fmt.Sprintf(
		`SELECT id, mls_number, source, status, listed_at, updated_at, address, property_type,
		        beds, baths, sqft, list_price, taxes_annual, condo_fee_monthly, media, brokerage, listing_version
		 FROM listings %s ORDER BY updated_at DESC LIMIT ? OFFSET ?`, where)
	args = append(args, limit, offset)
	rows, err := r.db.Conn.Query(query, args...)
	if err != nil {
		return nil, 0, apperr.Wrap(apperr.Transient, "listings.Search", "query failed", err)
	}
	defer rows.Close()

	var out []*Listing
	for rows.Next() {
		l, err := scanRows(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.Transient, "listings.Search", "scan failed", err)
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scan(row scanner) (*Listing, error) {
	return scanRows(row)
}

func scanRows(row scanner) (*Listing, error) {
	var l Listing
	var listedAt, updatedAt, addressJSON, mediaJSON string
	var sqft sql.NullInt64
	var taxesAnnual, condoFee sql.NullFloat64
	var brokerage sql.NullString

	if err := row.Scan(&l.ID, &l.MLSNumber, &l.Source, &l.Status, &listedAt, &updatedAt, &addressJSON,
		&l.PropertyType, &l.Beds, &l.Baths, &sqft, &l.ListPrice, &taxesAnnual, &condoFee, &mediaJSON,
		&brokerage, &l.ListingVersion); err != nil {
		return nil, err
	}

	l.ListedAt, _ = time.Parse(time.RFC3339, listedAt)
	l.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	_ = json.Unmarshal([]byte(addressJSON), &l.Address)
	_ = json.Unmarshal([]byte(mediaJSON), &l.Media)
	if sqft.Valid {
		v := int(sqft.Int64)
		l.SqFt = &v
	}
	if taxesAnnual.Valid {
		l.TaxesAnnual = &taxesAnnual.Float64
	}
	if condoFee.Valid {
		l.CondoFeeMonthly = &condoFee.Float64
	}
	if brokerage.Valid {
		l.Brokerage = brokerage.String
	}
	return &l, nil
}

// UpsertResult reports whether the diff-and-bump write actually changed
// the stored row (spec.md §4.2).
type UpsertResult struct {
	Listing *Listing
	Changed bool
	Created bool
}

// Upsert applies the diff-and-bump rule (spec.md §4.2): compare the
// incoming item against the current row excluding ListingVersion, write
// (and bump ListingVersion) only on difference.
func (r *Repository) Upsert(item FeedItem) (*UpsertResult, error) {
	existing, err := r.GetByID(item.ID)
	if err != nil && apperr.KindOf(err) != apperr.NotFound {
		return nil, err
	}

	candidate := &Listing{
		ID:              item.ID,
		MLSNumber:       item.MLSNumber,
		Source:          item.Source,
		Status:          item.Status,
		ListedAt:        item.ListedAt,
		UpdatedAt:       item.UpdatedAt,
		Address:         item.Address,
		PropertyType:    item.PropertyType,
		Beds:            item.Beds,
		Baths:           item.Baths,
		SqFt:            item.SqFt,
		ListPrice:       item.ListPrice,
		TaxesAnnual:     item.TaxesAnnual,
		CondoFeeMonthly: item.CondoFeeMonthly,
		Media:           item.Media,
		Brokerage:       item.Brokerage,
	}

	if existing == nil {
		candidate.ListingVersion = 1
		if err := r.write(candidate); err != nil {
			return nil, err
		}
		return &UpsertResult{Listing: candidate, Changed: true, Created: true}, nil
	}

	if sameSubstance(existing, candidate) {
		return &UpsertResult{Listing: existing, Changed: false}, nil
	}

	candidate.ListingVersion = existing.ListingVersion + 1
	if err := r.write(candidate); err != nil {
		return nil, err
	}
	return &UpsertResult{Listing: candidate, Changed: true}, nil
}

// sameSubstance compares two listings excluding ListingVersion (and,
// per spec.md §4.2, excluding the pure bookkeeping timestamp fields would
// apply here too, but UpdatedAt is itself a semantic upstream field for
// listings, so a change in UpdatedAt alone with no other change still
// counts as a write and bumps ListingVersion).
func sameSubstance(a, b *Listing) bool {
	return a.MLSNumber == b.MLSNumber &&
		a.Source == b.Source &&
		a.Status == b.Status &&
		a.ListedAt.Equal(b.ListedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		a.Address.Equal(b.Address) &&
		a.PropertyType == b.PropertyType &&
		a.Beds == b.Beds &&
		a.Baths == b.Baths &&
		eqIntPtr(a.SqFt, b.SqFt) &&
		a.ListPrice == b.ListPrice &&
		eqFloatPtr(a.TaxesAnnual, b.TaxesAnnual) &&
		eqFloatPtr(a.CondoFeeMonthly, b.CondoFeeMonthly) &&
		mediaEqual(a.Media, b.Media) &&
		a.Brokerage == b.Brokerage
}

func mediaEqual(a, b Media) bool {
	if len(a.Photos) != len(b.Photos) {
		return false
	}
	for i := range a.Photos {
		if a.Photos[i] != b.Photos[i] {
			return false
		}
	}
	return true
}

func eqIntPtr(a, b *int) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func eqFloatPtr(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func (r *Repository) write(l *Listing) error {
	addressJSON, err := json.Marshal(l.Address)
	if err != nil {
		return err
	}
	mediaJSON, err := json.Marshal(l.Media)
	if err != nil {
		return err
	}

	_, err = r.db.Conn.Exec(
		`INSERT INTO listings (id, mls_number, source, status, listed_at, updated_at, address, property_type,
		                        beds, baths, sqft, list_price, taxes_annual, condo_fee_monthly, media, brokerage, listing_version)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   mls_number=excluded.mls_number, source=excluded.source, status=excluded.status,
		   listed_at=excluded.listed_at, updated_at=excluded.updated_at, address=excluded.address,
		   property_type=excluded.property_type, beds=excluded.beds, baths=excluded.baths, sqft=excluded.sqft,
		   list_price=excluded.list_price, taxes_annual=excluded.taxes_annual,
		   condo_fee_monthly=excluded.condo_fee_monthly, media=excluded.media, brokerage=excluded.brokerage,
		   listing_version=excluded.listing_version`,
		l.ID, l.MLSNumber, l.Source, l.Status, l.ListedAt.Format(time.RFC3339), l.UpdatedAt.Format(time.RFC3339),
		string(addressJSON), l.PropertyType, l.Beds, l.Baths, l.SqFt, l.ListPrice, l.TaxesAnnual,
		l.CondoFeeMonthly, string(mediaJSON), l.Brokerage, l.ListingVersion,
	)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "listings.write", "upsert failed", err)
	}
	return nil
}

// Watermark returns the last successfully processed updatedAt for source,
// or the zero time if the source has never been polled.
func (r *Repository) Watermark(source string) (time.Time, error) {
	var s string
	err := r.db.Conn.QueryRow(`SELECT updated_at FROM watermarks WHERE source = ?`, source).Scan(&s)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, apperr.Wrap(apperr.Transient, "listings.Watermark", "query failed", err)
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t, nil
}

// AdvanceWatermark stores the new watermark for source. Per spec.md §4.3,
// this is only called after a page is fully processed, so duplicates
// across retries are absorbed by the diff-and-bump Upsert.
func (r *Repository) AdvanceWatermark(source string, t time.Time) error {
	_, err := r.db.Conn.Exec(
		`INSERT INTO watermarks (source, updated_at) VALUES (?, ?)
		 ON CONFLICT(source) DO UPDATE SET updated_at=excluded.updated_at`,
		source, t.Format(time.RFC3339))
	if err != nil {
		return apperr.Wrap(apperr.Transient, "listings.AdvanceWatermark", "write failed", err)
	}
	return nil
}
