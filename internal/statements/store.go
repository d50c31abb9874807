package statements

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dvloznov/statement-analytics/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	fieldPeriodStart = "period.start"
	fieldPeriodEnd   = "period.end"
	fieldUploadedAt  = "uploaded_at"
)

// ErrNotFound is returned by GetDocument for unknown ids.
var ErrNotFound = errors.New("statement not found")

var filenamePeriod = regexp.MustCompile(`(\d{1,2} [A-Za-z]{3} \d{4}) - (\d{1,2} [A-Za-z]{3} \d{4})`)

// Query selects statements whose period overlaps [Start, End]. Statements
// without a period always match. Nil bounds leave the range open.
type Query struct {
	Start *time.Time
	End   *time.Time
	Limit int64
}

func (q Query) filter() bson.M {
	if q.Start == nil && q.End == nil {
		return bson.M{}
	}
	overlap := bson.M{}
	if q.End != nil {
		overlap[fieldPeriodStart] = bson.M{"$lte": q.End.Format(domain.DateLayout)}
	}
	if q.Start != nil {
		overlap[fieldPeriodEnd] = bson.M{"$gte": q.Start.Format(domain.DateLayout)}
	}
	return bson.M{"$or": bson.A{
		overlap,
		bson.M{fieldPeriodStart: bson.M{"$exists": false}},
	}}
}

type periodRecord struct {
	Start string `bson:"start"`
	End   string `bson:"end"`
}

type elementRecord struct {
	Category   string `bson:"category"`
	PageNumber int    `bson:"page_number,omitempty"`
	HTML       string `bson:"html,omitempty"`
	Text       string `bson:"text,omitempty"`
}

type statementRecord struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Filename    string             `bson:"filename,omitempty"`
	Period      *periodRecord      `bson:"period,omitempty"`
	UploadedAt  time.Time          `bson:"uploaded_at"`
	ProcessedBy string             `bson:"processed_by,omitempty"`
	Elements    []elementRecord    `bson:"elements"`
}

func toRecord(doc domain.StatementDocument) statementRecord {
	rec := statementRecord{
		Filename:    doc.Filename,
		UploadedAt:  doc.UploadedAt,
		ProcessedBy: doc.ProcessedBy,
		Elements:    make([]elementRecord, len(doc.Elements)),
	}
	if doc.Period != nil {
		rec.Period = &periodRecord{Start: doc.Period.Start, End: doc.Period.End}
	}
	for i, e := range doc.Elements {
		rec.Elements[i] = elementRecord{Category: e.Category, PageNumber: e.PageNumber, HTML: e.Content.HTML, Text: e.Content.Text}
	}
	return rec
}

func (r statementRecord) document() domain.StatementDocument {
	doc := domain.StatementDocument{
		Filename:    r.Filename,
		UploadedAt:  r.UploadedAt,
		ProcessedBy: r.ProcessedBy,
		Elements:    make([]domain.Element, len(r.Elements)),
	}
	if !r.ID.IsZero() {
		doc.ID = r.ID.Hex()
	}
	if r.Period != nil {
		doc.Period = &domain.Period{Start: r.Period.Start, End: r.Period.End}
	}
	for i, e := range r.Elements {
		doc.Elements[i] = domain.Element{
			Category:   e.Category,
			PageNumber: e.PageNumber,
			Content:    domain.ElementContent{HTML: e.HTML, Text: e.Text},
		}
	}
	return doc
}

// Store reads and writes statement documents in one collection.
type Store struct {
	collection DataStore
	now        func() time.Time
}

// NewStore creates a Store over collection.
func NewStore(collection DataStore) *Store {
	return &Store{collection: collection, now: time.Now}
}

// InsertDocument stores doc and returns its id. A missing upload time is set
// to now and a missing period is taken from the filename when it has one.
func (s *Store) InsertDocument(ctx context.Context, doc domain.StatementDocument) (string, error) {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = s.now().UTC()
	}
	if doc.Period == nil {
		doc.Period = PeriodFromFilename(doc.Filename)
	}

	res, err := s.collection.InsertOne(ctx, toRecord(doc))
	if err != nil {
		return "", fmt.Errorf("InsertDocument: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// FindDocuments returns matching statements, newest upload first.
func (s *Store) FindDocuments(ctx context.Context, q Query) ([]domain.StatementDocument, error) {
	opts := options.Find().SetSort(bson.D{{Key: fieldUploadedAt, Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(q.Limit)
	}

	cur, err := s.collection.Find(ctx, q.filter(), opts)
	if err != nil {
		return nil, fmt.Errorf("FindDocuments: %w", err)
	}
	defer cur.Close(ctx)

	var records []statementRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("FindDocuments: decoding: %w", err)
	}

	docs := make([]domain.StatementDocument, len(records))
	for i, r := range records {
		docs[i] = r.document()
	}
	return docs, nil
}

// GetDocument returns the statement stored under id.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.StatementDocument, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.StatementDocument{}, fmt.Errorf("GetDocument: %s: %w", id, ErrNotFound)
	}

	cur, err := s.collection.Find(ctx, bson.M{"_id": oid}, options.Find().SetLimit(1))
	if err != nil {
		return domain.StatementDocument{}, fmt.Errorf("GetDocument: %w", err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return domain.StatementDocument{}, fmt.Errorf("GetDocument: %w", err)
		}
		return domain.StatementDocument{}, fmt.Errorf("GetDocument: %s: %w", id, ErrNotFound)
	}
	var rec statementRecord
	if err := cur.Decode(&rec); err != nil {
		return domain.StatementDocument{}, fmt.Errorf("GetDocument: decoding: %w", err)
	}
	return rec.document(), nil
}

// CountDocuments counts matching statements.
func (s *Store) CountDocuments(ctx context.Context, q Query) (int64, error) {
	n, err := s.collection.CountDocuments(ctx, q.filter())
	if err != nil {
		return 0, fmt.Errorf("CountDocuments: %w", err)
	}
	return n, nil
}

// PeriodFromFilename extracts a period from names like
// "02 Jan 2024 - 01 Feb 2024.pdf". It returns nil when none is found.
func PeriodFromFilename(filename string) *domain.Period {
	m := filenamePeriod.FindStringSubmatch(filename)
	if m == nil {
		return nil
	}
	start, err := time.Parse("2 Jan 2006", m[1])
	if err != nil {
		return nil
	}
	end, err := time.Parse("2 Jan 2006", m[2])
	if err != nil {
		return nil
	}
	return &domain.Period{Start: start.Format(domain.DateLayout), End: end.Format(domain.DateLayout)}
}
