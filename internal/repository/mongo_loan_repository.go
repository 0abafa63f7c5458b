package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/segyhp/library-engine/internal/domain"
)

// LoansCollection is the MongoDB collection holding one document per loan.
const LoansCollection = "loans"

type paymentDocument struct {
	PaymentID string               `bson:"paymentId"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Currency  string               `bson:"currency"`
	Date      time.Time            `bson:"date"`
	Status    string               `bson:"status"`
}

type loanDocument struct {
	ID             string               `bson:"_id"`
	UserID         string               `bson:"userId"`
	BookID         string               `bson:"bookId"`
	BookTitle      string               `bson:"bookTitle"`
	BookAuthors    []string             `bson:"bookAuthors"`
	BookCoverURL   string               `bson:"bookCoverUrl,omitempty"`
	BorrowDate     time.Time            `bson:"borrowDate"`
	DueDate        time.Time            `bson:"dueDate"`
	ReturnDate     *time.Time           `bson:"returnDate,omitempty"`
	LostAt         *time.Time           `bson:"lostAt,omitempty"`
	Status         string               `bson:"status"`
	RenewalCount   int                  `bson:"renewalCount"`
	FineAmount     primitive.Decimal128 `bson:"fineAmount"`
	FineDays       int                  `bson:"fineDays"`
	FineCurrency   string               `bson:"fineCurrency"`
	FinePaid       bool                 `bson:"finePaid"`
	PaidAt         *time.Time           `bson:"paidAt,omitempty"`
	PaymentHistory []paymentDocument    `bson:"payments"`
	Version        int64                `bson:"version"`
	CreatedAt      time.Time            `bson:"createdAt"`
	UpdatedAt      time.Time            `bson:"updatedAt"`
}

type mongoLoanRepository struct {
	collection *mongo.Collection
}

// NewMongoLoanRepository returns the MongoDB-backed store.
func NewMongoLoanRepository(db *mongo.Database) LoanRepository {
	return &mongoLoanRepository{collection: db.Collection(LoansCollection)}
}

// EnsureMongoIndexes creates the query and uniqueness indexes the store relies on.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "borrowDate", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "dueDate", Value: 1}}},
		{
			Keys: bson.D{{Key: "payments.paymentId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"payments.paymentId": bson.M{"$exists": true}}),
		},
	}
	if _, err := db.Collection(LoansCollection).Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("creating loan indexes: %w", err)
	}
	return nil
}

func (r *mongoLoanRepository) Create(ctx context.Context, loan *domain.Loan) (string, error) {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if loan.CreatedAt.IsZero() {
		loan.CreatedAt = now
	}
	loan.UpdatedAt = now
	loan.Version = 1

	doc, err := toDocument(loan)
	if err != nil {
		return "", err
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicateKey
		}
		return "", err
	}
	return loan.ID, nil
}

func (r *mongoLoanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	var doc loanDocument
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain()
}

func (r *mongoLoanRepository) FindActiveByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	filter := bson.M{
		"userId": userID,
		"status": bson.M{"$in": bson.A{string(domain.LoanStatusActive), string(domain.LoanStatusOverdue)}},
	}
	return r.find(ctx, filter, bson.D{{Key: "borrowDate", Value: -1}, {Key: "_id", Value: -1}})
}

func (r *mongoLoanRepository) FindHistoryByUser(ctx context.Context, userID string) ([]*domain.Loan, error) {
	filter := bson.M{"userId": userID, "status": string(domain.LoanStatusReturned)}
	return r.find(ctx, filter, bson.D{{Key: "borrowDate", Value: -1}, {Key: "_id", Value: -1}})
}

func (r *mongoLoanRepository) FindOverdueAsOf(ctx context.Context, now time.Time) ([]*domain.Loan, error) {
	filter := bson.M{"status": string(domain.LoanStatusActive), "dueDate": bson.M{"$lt": now}}
	return r.find(ctx, filter, bson.D{{Key: "dueDate", Value: 1}, {Key: "_id", Value: 1}})
}

func (r *mongoLoanRepository) FindAccruing(ctx context.Context) ([]*domain.Loan, error) {
	filter := bson.M{"status": string(domain.LoanStatusOverdue), "finePaid": false}
	return r.find(ctx, filter, bson.D{{Key: "dueDate", Value: 1}, {Key: "_id", Value: 1}})
}

func (r *mongoLoanRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Loan, error) {
	var doc loanDocument
	if err := r.collection.FindOne(ctx, bson.M{"payments.paymentId": paymentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toDomain()
}

func (r *mongoLoanRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"userId": userID,
		"status": bson.M{"$in": bson.A{string(domain.LoanStatusActive), string(domain.LoanStatusOverdue)}},
	})
	return int(count), err
}

func (r *mongoLoanRepository) Update(ctx context.Context, id string, expectedVersion int64, patch *domain.LoanPatch) (*domain.Loan, error) {
	set, err := patchSet(patch)
	if err != nil {
		return nil, err
	}
	set["updatedAt"] = time.Now().UTC()

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if patch.AppendPayment != nil {
		payment, err := toPaymentDocument(*patch.AppendPayment)
		if err != nil {
			return nil, err
		}
		update["$push"] = bson.M{"payments": payment}
	}

	var doc loanDocument
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err == nil {
		return doc.toDomain()
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, ErrDuplicateKey
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}

// Ping checks the primary is reachable.
func (r *mongoLoanRepository) Ping(ctx context.Context) error {
	return r.collection.Database().Client().Ping(ctx, readpref.Primary())
}

func (r *mongoLoanRepository) find(ctx context.Context, filter bson.M, sort bson.D) ([]*domain.Loan, error) {
	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []loanDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	loans := make([]*domain.Loan, 0, len(docs))
	for i := range docs {
		loan, err := docs[i].toDomain()
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, nil
}

func patchSet(patch *domain.LoanPatch) (bson.M, error) {
	set := bson.M{}
	if patch.Status != nil {
		set["status"] = string(*patch.Status)
	}
	if patch.ReturnDate != nil {
		set["returnDate"] = *patch.ReturnDate
	}
	if patch.LostAt != nil {
		set["lostAt"] = *patch.LostAt
	}
	if patch.FineAmount != nil {
		amount, err := toDecimal128(*patch.FineAmount)
		if err != nil {
			return nil, err
		}
		set["fineAmount"] = amount
	}
	if patch.FineDays != nil {
		set["fineDays"] = *patch.FineDays
	}
	if patch.FineCurrency != nil {
		set["fineCurrency"] = string(*patch.FineCurrency)
	}
	if patch.FinePaid != nil {
		set["finePaid"] = *patch.FinePaid
	}
	if patch.PaidAt != nil {
		set["paidAt"] = *patch.PaidAt
	}
	return set, nil
}

func toDocument(loan *domain.Loan) (*loanDocument, error) {
	fineAmount, err := toDecimal128(loan.FineAmount)
	if err != nil {
		return nil, err
	}
	payments := make([]paymentDocument, 0, len(loan.PaymentHistory))
	for _, record := range loan.PaymentHistory {
		payment, err := toPaymentDocument(record)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return &loanDocument{
		ID:             loan.ID,
		UserID:         loan.UserID,
		BookID:         loan.BookID,
		BookTitle:      loan.BookTitle,
		BookAuthors:    append([]string{}, loan.BookAuthors...),
		BookCoverURL:   loan.BookCoverURL,
		BorrowDate:     loan.BorrowDate,
		DueDate:        loan.DueDate,
		ReturnDate:     loan.ReturnDate,
		LostAt:         loan.LostAt,
		Status:         string(loan.Status),
		RenewalCount:   loan.RenewalCount,
		FineAmount:     fineAmount,
		FineDays:       loan.FineDays,
		FineCurrency:   string(loan.FineCurrency),
		FinePaid:       loan.FinePaid,
		PaidAt:         loan.PaidAt,
		PaymentHistory: payments,
		Version:        loan.Version,
		CreatedAt:      loan.CreatedAt,
		UpdatedAt:      loan.UpdatedAt,
	}, nil
}

func (doc *loanDocument) toDomain() (*domain.Loan, error) {
	fineAmount, err := fromDecimal128(doc.FineAmount)
	if err != nil {
		return nil, err
	}
	history := make([]domain.PaymentRecord, 0, len(doc.PaymentHistory))
	for _, payment := range doc.PaymentHistory {
		amount, err := fromDecimal128(payment.Amount)
		if err != nil {
			return nil, err
		}
		history = append(history, domain.PaymentRecord{
			PaymentID: payment.PaymentID,
			Amount:    amount,
			Currency:  domain.Currency(payment.Currency),
			Date:      payment.Date.UTC(),
			Status:    payment.Status,
		})
	}
	return &domain.Loan{
		ID:             doc.ID,
		UserID:         doc.UserID,
		BookID:         doc.BookID,
		BookTitle:      doc.BookTitle,
		BookAuthors:    doc.BookAuthors,
		BookCoverURL:   doc.BookCoverURL,
		BorrowDate:     doc.BorrowDate.UTC(),
		DueDate:        doc.DueDate.UTC(),
		ReturnDate:     utcPtr(doc.ReturnDate),
		LostAt:         utcPtr(doc.LostAt),
		Status:         domain.LoanStatus(doc.Status),
		RenewalCount:   doc.RenewalCount,
		FineAmount:     fineAmount,
		FineDays:       doc.FineDays,
		FineCurrency:   domain.Currency(doc.FineCurrency),
		FinePaid:       doc.FinePaid,
		PaidAt:         utcPtr(doc.PaidAt),
		PaymentHistory: history,
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt.UTC(),
		UpdatedAt:      doc.UpdatedAt.UTC(),
	}, nil
}

func toPaymentDocument(record domain.PaymentRecord) (paymentDocument, error) {
	amount, err := toDecimal128(record.Amount)
	if err != nil {
		return paymentDocument{}, err
	}
	return paymentDocument{
		PaymentID: record.PaymentID,
		Amount:    amount,
		Currency:  string(record.Currency),
		Date:      record.Date,
		Status:    record.Status,
	}, nil
}

func toDecimal128(value decimal.Decimal) (primitive.Decimal128, error) {
	d, err := primitive.ParseDecimal128(value.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encoding decimal %s: %w", value, err)
	}
	return d, nil
}

func fromDecimal128(value primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decoding decimal %s: %w", value, err)
	}
	return d, nil
}
