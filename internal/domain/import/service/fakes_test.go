package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-import-engine/internal/domain/categorization"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/mapping"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/import/repository"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/ledger"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/reconciliation"
	"github.com/FACorreiaa/statement-import-engine/internal/domain/taxonomy"
)

// ============================================================================
// Import repository
// ============================================================================

// memoryRepository mirrors the status guards and uniqueness rules of the
// Postgres repository.
type memoryRepository struct {
	mu         sync.Mutex
	clock      time.Time
	jobs       map[uuid.UUID]*repository.ImportJob
	fileHashes []*repository.FileHashRecord
	rowHashes  map[string]*repository.RowHashRecord
	checkpoint []repository.Progress
	// racingInsert, when set, returns a record committed by a concurrent
	// writer just before rec is inserted.
	racingInsert func(rec *repository.RowHashRecord) *repository.RowHashRecord
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		clock:     time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
		jobs:      make(map[uuid.UUID]*repository.ImportJob),
		rowHashes: make(map[string]*repository.RowHashRecord),
	}
}

// tick returns a strictly increasing timestamp so creation order is stable.
func (r *memoryRepository) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

func isActive(s repository.Status) bool {
	return s == repository.StatusPending || s == repository.StatusProcessing || s == repository.StatusCompleted
}

func (r *memoryRepository) CreateJob(_ context.Context, job *repository.ImportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fh := range r.fileHashes {
		if fh.AccountID == job.AccountID && fh.FileHash == job.FileHash && isActive(fh.Status) {
			return repository.ErrFileHashTaken
		}
	}
	now := r.tick()
	job.CreatedAt, job.UpdatedAt = now, now
	stored := *job
	r.jobs[job.ID] = &stored
	r.fileHashes = append(r.fileHashes, &repository.FileHashRecord{
		ImportJobID: job.ID,
		UserID:      job.UserID,
		AccountID:   job.AccountID,
		FileHash:    job.FileHash,
		Status:      repository.StatusPending,
		CreatedAt:   now,
	})
	return nil
}

func (r *memoryRepository) GetJob(_ context.Context, id uuid.UUID) (*repository.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (r *memoryRepository) CountActive(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.UserID == userID && !j.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) CountActiveAhead(_ context.Context, job *repository.ImportJob) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.UserID == job.UserID && j.ID != job.ID && !j.Status.IsTerminal() && j.CreatedAt.Before(job.CreatedAt) {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepository) FindActiveFileHash(_ context.Context, accountID uuid.UUID, fileHash string) (*repository.FileHashRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fh := range r.fileHashes {
		if fh.AccountID == accountID && fh.FileHash == fileHash && isActive(fh.Status) {
			cp := *fh
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memoryRepository) SupersedeFileHashes(_ context.Context, accountID uuid.UUID, fileHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fh := range r.fileHashes {
		if fh.AccountID == accountID && fh.FileHash == fileHash && isActive(fh.Status) {
			fh.Status = repository.StatusSuperseded
		}
	}
	return nil
}

func (r *memoryRepository) setFileHashStatus(jobID uuid.UUID, status repository.Status) {
	for _, fh := range r.fileHashes {
		if fh.ImportJobID == jobID && fh.Status != repository.StatusSuperseded {
			fh.Status = status
		}
	}
}

func (r *memoryRepository) fileHashStatus(jobID uuid.UUID) repository.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fh := range r.fileHashes {
		if fh.ImportJobID == jobID {
			return fh.Status
		}
	}
	return ""
}

// transition applies a status-guarded update, returning ErrJobNotActive when
// the job is not in one of from.
func (r *memoryRepository) transition(id uuid.UUID, fn func(j *repository.ImportJob), from ...repository.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrJobNotActive
	}
	for _, s := range from {
		if job.Status == s {
			fn(job)
			job.UpdatedAt = r.tick()
			return nil
		}
	}
	return repository.ErrJobNotActive
}

func (r *memoryRepository) MarkProcessing(_ context.Context, id uuid.UUID) error {
	return r.transition(id, func(j *repository.ImportJob) {
		j.Status = repository.StatusProcessing
		if j.StartedAt == nil {
			now := r.clock
			j.StartedAt = &now
		}
		r.setFileHashStatus(id, repository.StatusProcessing)
	}, repository.StatusPending, repository.StatusProcessing)
}

func (r *memoryRepository) SaveColumnMapping(_ context.Context, id uuid.UUID, cfg mapping.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.ErrJobNotFound
	}
	job.ColumnMapping = &cfg
	return nil
}

func (r *memoryRepository) UpdateProgress(_ context.Context, id uuid.UUID, p repository.Progress) error {
	return r.transition(id, func(j *repository.ImportJob) {
		j.ProcessedCount, j.SkippedCount, j.DuplicateCount, j.TotalCount = p.Processed, p.Skipped, p.Duplicate, p.Total
		r.checkpoint = append(r.checkpoint, p)
	}, repository.StatusProcessing)
}

func (r *memoryRepository) Complete(_ context.Context, id uuid.UUID, p repository.Progress, report []repository.RowError, reportPath *string) error {
	return r.transition(id, func(j *repository.ImportJob) {
		j.Status = repository.StatusCompleted
		j.ProcessedCount, j.SkippedCount, j.DuplicateCount, j.TotalCount = p.Processed, p.Skipped, p.Duplicate, p.Total
		j.ErrorReport = report
		j.ErrorReportPath = reportPath
		now := r.clock
		j.CompletedAt = &now
		r.setFileHashStatus(id, repository.StatusCompleted)
	}, repository.StatusProcessing)
}

func (r *memoryRepository) Fail(_ context.Context, id uuid.UUID, message string) error {
	return r.transition(id, func(j *repository.ImportJob) {
		j.Status = repository.StatusFailed
		j.ErrorMessage = &message
		now := r.clock
		j.CompletedAt = &now
		r.setFileHashStatus(id, repository.StatusFailed)
	}, repository.StatusPending, repository.StatusProcessing)
}

func rowKey(userID, accountID uuid.UUID, hash string) string {
	return userID.String() + "/" + accountID.String() + "/" + hash
}

func (r *memoryRepository) FindRowHash(_ context.Context, userID, accountID uuid.UUID, rowHash string) (*repository.RowHashRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rowHashes[rowKey(userID, accountID, rowHash)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *memoryRepository) InsertRowHash(_ context.Context, rec *repository.RowHashRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rowKey(rec.UserID, rec.AccountID, rec.RowHash)
	if r.racingInsert != nil {
		if other := r.racingInsert(rec); other != nil {
			other.ID = uuid.New()
			other.CreatedAt = r.tick()
			r.rowHashes[key] = other
		}
	}
	if _, ok := r.rowHashes[key]; ok {
		return repository.ErrRowHashExists
	}
	rec.ID = uuid.New()
	rec.CreatedAt = r.tick()
	cp := *rec
	r.rowHashes[key] = &cp
	return nil
}

func (r *memoryRepository) ListStale(_ context.Context, before time.Time, limit int) ([]*repository.ImportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var jobs []*repository.ImportJob
	for _, j := range r.jobs {
		if !j.Status.IsTerminal() && j.UpdatedAt.Before(before) && len(jobs) < limit {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	return jobs, nil
}

func (r *memoryRepository) IncrementAttempts(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return 0, repository.ErrJobNotFound
	}
	job.Attempts++
	job.UpdatedAt = r.tick()
	return job.Attempts, nil
}

func (r *memoryRepository) now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock
}

func (r *memoryRepository) progressCheckpoints() []repository.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.Progress(nil), r.checkpoint...)
}

// age pushes a job's last update into the past for the stale sweep.
func (r *memoryRepository) age(id uuid.UUID, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].UpdatedAt = r.jobs[id].UpdatedAt.Add(-d)
}

// ============================================================================
// Collaborators
// ============================================================================

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memoryLedger struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*ledger.Account
	txs      []*ledger.Transaction
	// afterRecord runs outside the lock with the number of transactions
	// recorded so far.
	afterRecord func(n int)
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{accounts: make(map[uuid.UUID]*ledger.Account)}
}

func (l *memoryLedger) addAccount(userID uuid.UUID) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	l.accounts[id] = &ledger.Account{ID: id, UserID: userID, Name: "Checking", Currency: "USD"}
	return id
}

func (l *memoryLedger) GetAccount(_ context.Context, userID, accountID uuid.UUID) (*ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[accountID]
	if !ok || acc.UserID != userID {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (l *memoryLedger) RecordTransaction(_ context.Context, in ledger.RecordInput) (*ledger.Transaction, error) {
	l.mu.Lock()
	acc, ok := l.accounts[in.AccountID]
	if !ok {
		l.mu.Unlock()
		return nil, ledger.ErrAccountNotFound
	}
	acc.Balance = acc.Balance.Add(in.Amount)
	tx := &ledger.Transaction{
		ID:           uuid.New(),
		UserID:       in.UserID,
		AccountID:    in.AccountID,
		CategoryID:   in.CategoryID,
		Type:         in.Type,
		Amount:       in.Amount,
		Description:  in.Description,
		Date:         in.Date,
		SettledDate:  in.SettledDate,
		BalanceAfter: acc.Balance,
		TagIDs:       in.TagIDs,
	}
	l.txs = append(l.txs, tx)
	n := len(l.txs)
	hook := l.afterRecord
	l.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return tx, nil
}

func (l *memoryLedger) transactions() []*ledger.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*ledger.Transaction(nil), l.txs...)
}

func (l *memoryLedger) byDescription(desc string) *ledger.Transaction {
	for _, tx := range l.transactions() {
		if tx.Description == desc {
			return tx
		}
	}
	return nil
}

type fakeTaxonomy struct {
	mu         sync.Mutex
	categories map[string]*taxonomy.Category
	tags       map[string]*taxonomy.Tag
}

func newFakeTaxonomy() *fakeTaxonomy {
	return &fakeTaxonomy{
		categories: make(map[string]*taxonomy.Category),
		tags:       make(map[string]*taxonomy.Tag),
	}
}

func (f *fakeTaxonomy) Category(_ context.Context, userID uuid.UUID, name string) (*taxonomy.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, taxonomy.ErrEmptyName
	}
	key := strings.ToLower(name)
	if c, ok := f.categories[key]; ok {
		return c, nil
	}
	c := &taxonomy.Category{ID: uuid.New(), UserID: userID, Name: name}
	f.categories[key] = c
	return c, nil
}

func (f *fakeTaxonomy) Tags(_ context.Context, userID uuid.UUID, names []string) ([]*taxonomy.Tag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*taxonomy.Tag
	for _, n := range names {
		key := strings.ToLower(strings.TrimSpace(n))
		t, ok := f.tags[key]
		if !ok {
			t = &taxonomy.Tag{ID: uuid.New(), UserID: userID, Name: n, Color: taxonomy.Palette[0]}
			f.tags[key] = t
		}
		out = append(out, t)
	}
	return out, nil
}

type keywordRule struct {
	keyword    string
	categoryID uuid.UUID
	confidence int
}

type loggedSuggestion struct {
	transactionID *uuid.UUID
	description   string
	suggestion    *categorization.Suggestion
}

type observation struct {
	description string
	categoryID  uuid.UUID
}

// fakeCategorizer matches substrings and applies the same strictly-greater
// threshold rule as the real engine.
type fakeCategorizer struct {
	mu         sync.Mutex
	rules      []keywordRule
	err        error
	loads      int
	thresholds []int
	logs       []loggedSuggestion
	observed   []observation
}

func (f *fakeCategorizer) Engine(_ context.Context, _ uuid.UUID) (*categorization.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return categorization.NewEngine(nil, nil), nil
}

func (f *fakeCategorizer) CategorizeWith(_ *categorization.Engine, description string, threshold int) *categorization.Suggestion {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.thresholds = append(f.thresholds, threshold)
	lower := strings.ToLower(description)
	for _, r := range f.rules {
		if strings.Contains(lower, r.keyword) {
			id := r.categoryID
			return &categorization.Suggestion{
				CategoryID:      &id,
				Source:          categorization.SourceRuleExact,
				MatchedKeywords: []string{r.keyword},
				Confidence:      r.confidence,
				AutoApplied:     r.confidence > threshold,
			}
		}
	}
	return &categorization.Suggestion{Source: categorization.SourceNone}
}

func (f *fakeCategorizer) LogSuggestion(_ context.Context, _ uuid.UUID, transactionID *uuid.UUID, description string, sugg *categorization.Suggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, loggedSuggestion{transactionID: transactionID, description: description, suggestion: sugg})
	return nil
}

func (f *fakeCategorizer) Observe(_ context.Context, _ uuid.UUID, description string, categoryID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, observation{description: description, categoryID: categoryID})
	return nil
}

type attachment struct {
	reconciliationID uuid.UUID
	transactionID    uuid.UUID
	confidence       int
}

// fakeReconciler scores the memory ledger with the real matcher.
type fakeReconciler struct {
	mu       sync.Mutex
	ledger   *memoryLedger
	matcher  *reconciliation.Matcher
	recs     map[uuid.UUID]*reconciliation.Reconciliation
	attached []attachment
}

func newFakeReconciler(l *memoryLedger) *fakeReconciler {
	return &fakeReconciler{
		ledger:  l,
		matcher: reconciliation.NewMatcher(),
		recs:    make(map[uuid.UUID]*reconciliation.Reconciliation),
	}
}

func (f *fakeReconciler) add(userID, accountID uuid.UUID) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.recs[id] = &reconciliation.Reconciliation{
		ID:            id,
		UserID:        userID,
		AccountID:     accountID,
		StatementDate: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:        reconciliation.StatusPending,
	}
	return id
}

func (f *fakeReconciler) Get(_ context.Context, userID, id uuid.UUID) (*reconciliation.Reconciliation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok || rec.UserID != userID {
		return nil, reconciliation.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeReconciler) isAttached(recID, txID uuid.UUID) bool {
	for _, a := range f.attached {
		if a.reconciliationID == recID && a.transactionID == txID {
			return true
		}
	}
	return false
}

func (f *fakeReconciler) FindMatches(ctx context.Context, userID, recID uuid.UUID, q reconciliation.Query) ([]reconciliation.Match, error) {
	rec, err := f.Get(ctx, userID, recID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var candidates []reconciliation.Candidate
	for _, tx := range f.ledger.transactions() {
		if tx.AccountID != rec.AccountID || f.isAttached(recID, tx.ID) {
			continue
		}
		candidates = append(candidates, reconciliation.Candidate{
			ID:          tx.ID,
			Amount:      tx.Amount,
			Date:        tx.Date,
			Description: tx.Description,
		})
	}
	return f.matcher.Rank(q, candidates), nil
}

func (f *fakeReconciler) Attach(_ context.Context, _ uuid.UUID, recID, txID uuid.UUID, confidence int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isAttached(recID, txID) {
		return errors.New("already attached")
	}
	f.attached = append(f.attached, attachment{reconciliationID: recID, transactionID: txID, confidence: confidence})
	return nil
}

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}
