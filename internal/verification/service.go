package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"payproof/internal/audit"
	"payproof/internal/event"
	"payproof/internal/extraction"
	"payproof/internal/matching"
	"payproof/internal/obligation"
	"payproof/internal/verification/metrics"
	"payproof/pkg/platform/sentinel"
)

// Enqueuer hands accepted submissions to the worker pool. Split out as an
// interface because the pool also depends on the service for processing.
type Enqueuer interface {
	Enqueue(submissionID uuid.UUID) bool
}

// transientError marks a failure worth requeueing and names the decision
// reason to record if the retry budget runs out.
type transientError struct {
	Reason string
	Err    error
}

func (e *transientError) Error() string { return e.Err.Error() }
func (e *transientError) Unwrap() error { return e.Err }

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Service orchestrates the verification pipeline: intake, extraction,
// matching, decision, and commit. All stage transitions are audited.
type Service struct {
	submissions SubmissionStore
	decisions   DecisionStore
	obligations obligation.Store
	tx          TxRunner

	text       extraction.TextExtractor
	structured extraction.StructuredExtractor
	normalizer *extraction.Normalizer
	retriever  *matching.Retriever
	scorer     *matching.Scorer
	thresholds Thresholds

	images ImageStore
	dedupe DedupeIndex
	audit  *audit.Publisher
	events event.Publisher
	queue  Enqueuer

	maxImageBytes int64
	logger        *slog.Logger
	now           func() time.Time
}

// Deps bundles the service's collaborators. Everything is required except
// the queue, which is attached after construction to break the cycle with
// the worker pool.
type Deps struct {
	Submissions SubmissionStore
	Decisions   DecisionStore
	Obligations obligation.Store
	Tx          TxRunner

	Text       extraction.TextExtractor
	Structured extraction.StructuredExtractor
	Normalizer *extraction.Normalizer
	Retriever  *matching.Retriever
	Scorer     *matching.Scorer
	Thresholds Thresholds

	Images ImageStore
	Dedupe DedupeIndex
	Audit  *audit.Publisher
	Events event.Publisher

	MaxImageBytes int64
	Logger        *slog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		submissions:   d.Submissions,
		decisions:     d.Decisions,
		obligations:   d.Obligations,
		tx:            d.Tx,
		text:          d.Text,
		structured:    d.Structured,
		normalizer:    d.Normalizer,
		retriever:     d.Retriever,
		scorer:        d.Scorer,
		thresholds:    d.Thresholds,
		images:        d.Images,
		dedupe:        d.Dedupe,
		audit:         d.Audit,
		events:        d.Events,
		maxImageBytes: d.MaxImageBytes,
		logger:        d.Logger,
		now:           time.Now,
	}
}

// AttachQueue wires the worker pool in after both sides exist.
func (s *Service) AttachQueue(q Enqueuer) { s.queue = q }

// Submit validates and registers an uploaded proof image. The caller may
// supply the submission id for idempotent uploads; uuid.Nil means generate
// one. Duplicate images (same content hash) are recorded but not
// re-processed; their decision resolves to the canonical submission's.
func (s *Service) Submit(ctx context.Context, submissionID uuid.UUID, image []byte, hintedObligationID *uuid.UUID) (*Submission, error) {
	if len(image) == 0 {
		return nil, &extraction.MalformedInputError{Reason: "empty image"}
	}
	if s.maxImageBytes > 0 && int64(len(image)) > s.maxImageBytes {
		return nil, &extraction.MalformedInputError{Reason: fmt.Sprintf("image exceeds %d bytes", s.maxImageBytes)}
	}
	if contentType := http.DetectContentType(image); !allowedImageTypes[contentType] {
		return nil, &extraction.MalformedInputError{Reason: "unsupported image type " + contentType}
	}

	if hintedObligationID != nil {
		if _, err := s.obligations.Get(ctx, *hintedObligationID); err != nil {
			return nil, fmt.Errorf("hinted obligation: %w", err)
		}
	}

	sum := sha256.Sum256(image)
	hash := hex.EncodeToString(sum[:])

	if submissionID == uuid.Nil {
		submissionID = uuid.New()
	} else if existing, err := s.submissions.Get(ctx, submissionID); err == nil {
		if existing.ContentHash == hash {
			// Idempotent retry of an upload the caller already made.
			return existing, nil
		}
		return nil, fmt.Errorf("submission id reused with different image: %w", sentinel.ErrConflict)
	}

	now := s.now().UTC()
	sub := &Submission{
		ID:                 submissionID,
		HintedObligationID: hintedObligationID,
		ImageRef:           "sha256:" + hash,
		ContentHash:        hash,
		State:              StateReceived,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.images.Save(ctx, sub.ImageRef, image); err != nil {
		return nil, fmt.Errorf("save image: %w", err)
	}

	canonical, err := s.dedupe.Claim(ctx, sub.ContentHash, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("dedupe claim: %w", err)
	}
	if canonical != sub.ID {
		sub.DuplicateOf = &canonical
	}

	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	if sub.DuplicateOf != nil {
		metrics.DuplicatesTotal.Inc()
		s.logger.Info("duplicate submission short-circuited",
			"submission_id", sub.ID, "canonical_id", canonical)
		return sub, nil
	}

	if s.queue != nil && !s.queue.Enqueue(sub.ID) {
		s.logger.Warn("verification queue full", "submission_id", sub.ID)
		return nil, fmt.Errorf("enqueue submission: %w", sentinel.ErrUnavailable)
	}
	return sub, nil
}

// Process runs the full pipeline for one submission. It is invoked by the
// worker pool under a lease, so at most one run is active per submission.
// Returning sentinel.ErrUnavailable asks the pool to requeue with backoff;
// every other path terminates the submission with a recorded decision.
func (s *Service) Process(ctx context.Context, submissionID uuid.UUID) (err error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}
	if sub.DuplicateOf != nil {
		return nil
	}
	if sub.Cancelled && sub.State == StateReceived {
		return s.transition(ctx, sub, StateCancelled)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pipeline panic", "submission_id", sub.ID, "panic", r)
			err = s.finalizeFailure(ctx, sub, ReasonInternalError)
		}
	}()

	switch sub.State {
	case StateReceived:
		if err := s.transition(ctx, sub, StateExtracting); err != nil {
			return err
		}
	case StateExtracting, StateScoring:
		// Resuming after a requeue; the lease guarantees exclusivity.
	default:
		return nil
	}

	image, err := s.images.Load(ctx, sub.ImageRef)
	if err != nil {
		s.logger.Error("image load failed", "submission_id", sub.ID, "error", err)
		return s.finalizeFailure(ctx, sub, ReasonInternalError)
	}

	payment, failReason, err := s.extract(ctx, sub, image)
	if err != nil {
		return err
	}
	if failReason != "" {
		return s.finalizeFailure(ctx, sub, failReason)
	}

	if reason := validateExtraction(payment); reason != "" {
		return s.finalizeFailure(ctx, sub, reason)
	}

	if sub.State == StateExtracting {
		if sub.Cancelled || s.cancelled(ctx, sub) {
			return s.transition(ctx, sub, StateCancelled)
		}
		if err := s.transition(ctx, sub, StateScoring); err != nil {
			return err
		}
	}

	candidates, err := s.match(ctx, sub, payment)
	if err != nil {
		s.logger.Error("candidate retrieval failed", "submission_id", sub.ID, "error", err)
		return &transientError{
			Reason: ReasonInternalError,
			Err:    fmt.Errorf("retrieve candidates: %w", sentinel.ErrUnavailable),
		}
	}

	verdict := Decide(candidates, s.thresholds)
	return s.commit(ctx, sub, verdict)
}

// extract runs both extractors in parallel and normalizes their merge. Each
// backend soft-fails: one healthy backend is enough to continue. The second
// return value is a terminal failure reason when neither produced anything
// usable, and err is non-nil only for requeue-worthy transient failures.
func (s *Service) extract(ctx context.Context, sub *Submission, image []byte) (extraction.ExtractedPayment, string, error) {
	start := s.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	}()

	var hints *extraction.Hints
	if sub.HintedObligationID != nil {
		if o, err := s.obligations.Get(ctx, *sub.HintedObligationID); err == nil {
			hints = &extraction.Hints{
				Amount:    &o.Amount,
				Currency:  &o.Currency,
				Reference: &o.Reference,
			}
		}
	}

	var (
		textRes       *extraction.TextResult
		structuredRes *extraction.StructuredResult
		textErr       error
		structErr     error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		textRes, textErr = s.text.ExtractText(gctx, image)
		if textErr != nil {
			s.recordExtractorFailure("ocr", textErr)
		}
		return nil
	})
	g.Go(func() error {
		structuredRes, structErr = s.structured.ExtractPayment(gctx, image, hints)
		if structErr != nil {
			s.recordExtractorFailure("vision", structErr)
		}
		return nil
	})
	g.Wait()

	var malformed *extraction.MalformedInputError
	if errors.As(textErr, &malformed) || errors.As(structErr, &malformed) {
		return extraction.ExtractedPayment{}, ReasonUnreadableImage, nil
	}

	if textErr != nil && structErr != nil {
		if retryableExtraction(textErr) && retryableExtraction(structErr) {
			return extraction.ExtractedPayment{}, "", &transientError{
				Reason: ReasonExtractionUnavailable,
				Err:    fmt.Errorf("both extractors unavailable: %w", sentinel.ErrUnavailable),
			}
		}
		return extraction.ExtractedPayment{}, ReasonExtractionUnavailable, nil
	}

	return s.normalizer.Normalize(textRes, structuredRes, s.now().UTC()), "", nil
}

func retryableExtraction(err error) bool {
	var xerr *extraction.ExtractionError
	return errors.As(err, &xerr) && xerr.Retryable
}

func (s *Service) recordExtractorFailure(backend string, err error) {
	category := "unknown"
	var xerr *extraction.ExtractionError
	if errors.As(err, &xerr) {
		category = string(xerr.Category)
	}
	metrics.ExtractorFailures.WithLabelValues(backend, category).Inc()
	s.logger.Warn("extractor failed", "backend", backend, "category", category, "error", err)
}

// validateExtraction applies the sanity gates that make scoring pointless.
func validateExtraction(p extraction.ExtractedPayment) string {
	if p.Has(extraction.FieldAmount) && !p.Amount.IsPositive() {
		return ReasonInvalidAmount
	}
	if p.Has(extraction.FieldAmount) && !p.Has(extraction.FieldCurrency) {
		return ReasonCurrencyUnresolved
	}
	return ""
}

// match retrieves candidate obligations and scores each. The hinted
// obligation always joins the candidate set so an explicit buyer claim is
// never dropped by retrieval heuristics.
func (s *Service) match(ctx context.Context, sub *Submission, p extraction.ExtractedPayment) ([]matching.Candidate, error) {
	start := s.now()
	defer func() {
		metrics.StageDuration.WithLabelValues("match").Observe(time.Since(start).Seconds())
	}()

	pending, err := s.retriever.FindCandidates(ctx, p)
	if err != nil {
		return nil, err
	}

	if sub.HintedObligationID != nil {
		hinted, err := s.obligations.Get(ctx, *sub.HintedObligationID)
		if err == nil && hinted.Status == obligation.StatusAwaitingPayment {
			present := false
			for _, o := range pending {
				if o.ID == hinted.ID {
					present = true
					break
				}
			}
			if !present {
				pending = append(pending, hinted)
			}
		}
	}

	candidates := make([]matching.Candidate, 0, len(pending))
	for _, o := range pending {
		score, reasons := s.scorer.Score(p, o)
		candidates = append(candidates, matching.Candidate{Obligation: o, Score: score, Reasons: reasons})
	}
	return candidates, nil
}

// commit persists the verdict. Auto-approval runs inside one transaction:
// the obligation CAS, the decision row, the submission state flip and the
// audit entry land together or not at all. Losing the CAS downgrades the
// verdict to manual review instead of approving a settled obligation twice.
func (s *Service) commit(ctx context.Context, sub *Submission, v Verdict) error {
	outcome := v.Outcome
	reasons := v.Reasons
	var winnerID *uuid.UUID
	if v.Winner != nil {
		id := v.Winner.Obligation.ID
		winnerID = &id
	}

	if outcome == OutcomeAutoApproved {
		won := false
		err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
			ok, err := s.obligations.TryMarkPaid(txCtx, *winnerID, obligation.StatusAwaitingPayment)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			won = true
			sub.ObligationID = winnerID
			return s.recordDecision(txCtx, sub, OutcomeAutoApproved, winnerID, v)
		})
		if err != nil {
			s.logger.Error("auto-approve commit failed", "submission_id", sub.ID, "error", err)
			return &transientError{
				Reason: ReasonInternalError,
				Err:    fmt.Errorf("commit auto-approval: %w", sentinel.ErrUnavailable),
			}
		}
		if !won {
			metrics.ApproveCommitConflicts.Inc()
			outcome = OutcomeManualReview
			reasons = append([]string{ReasonTargetAlreadySettled}, v.Reasons...)
			winnerID = nil
		}
		if won {
			s.publishDecided(ctx, sub, OutcomeAutoApproved, winnerID, v.topScore(), v.Reasons)
			return nil
		}
	}

	downgraded := v
	downgraded.Outcome = outcome
	downgraded.Reasons = reasons
	if err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.recordDecision(txCtx, sub, outcome, winnerID, downgraded)
	}); err != nil {
		s.logger.Error("decision commit failed", "submission_id", sub.ID, "error", err)
		return &transientError{
			Reason: ReasonInternalError,
			Err:    fmt.Errorf("commit decision: %w", sentinel.ErrUnavailable),
		}
	}
	s.publishDecided(ctx, sub, outcome, winnerID, downgraded.topScore(), reasons)
	return nil
}

func (v Verdict) topScore() float64 {
	if len(v.Ranked) == 0 {
		return 0
	}
	return v.Ranked[0].Score
}

// recordDecision writes the decision, moves the submission state, and emits
// the audit entries. Runs inside the caller's transaction context.
func (s *Service) recordDecision(ctx context.Context, sub *Submission, outcome Outcome, obligationID *uuid.UUID, v Verdict) error {
	now := s.now().UTC()
	decision := &Decision{
		ID:           uuid.New(),
		SubmissionID: sub.ID,
		Outcome:      outcome,
		ObligationID: obligationID,
		Score:        v.topScore(),
		Reasons:      v.Reasons,
		Candidates:   rankedCandidates(v.Ranked),
		DecidedAt:    now,
		DecidedBy:    audit.ActorSystem,
	}
	if err := s.decisions.Append(ctx, decision); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}

	next := stateForOutcome(outcome)
	if err := s.submissions.UpdateState(ctx, sub.ID, sub.State, next); err != nil {
		return fmt.Errorf("finalize submission state: %w", err)
	}
	prev := sub.State
	sub.State = next
	sub.UpdatedAt = now

	if err := s.audit.Emit(ctx, audit.Entry{
		SubmissionID: sub.ID,
		Action:       audit.ActionDecision,
		FromState:    string(prev),
		ToState:      string(next),
		Outcome:      string(outcome),
		Score:        decision.Score,
		Reasons:      decision.Reasons,
	}); err != nil {
		return fmt.Errorf("audit decision: %w", err)
	}

	metrics.DecisionsTotal.WithLabelValues(string(outcome)).Inc()
	return nil
}

func rankedCandidates(ranked []matching.Candidate) []RankedCandidate {
	out := make([]RankedCandidate, 0, len(ranked))
	for _, c := range ranked {
		out = append(out, RankedCandidate{
			ObligationID: c.Obligation.ID,
			Score:        c.Score,
			Reasons:      c.Reasons,
		})
	}
	return out
}

func stateForOutcome(o Outcome) State {
	switch o {
	case OutcomeAutoApproved:
		return StateAutoApproved
	case OutcomeRejected:
		return StateRejected
	case OutcomeNoCandidate:
		return StateNoCandidate
	default:
		return StateManualReview
	}
}

// finalizeFailure terminates the pipeline in manual review with a single
// failure reason. Used for unreadable images, dead extraction backends and
// internal errors: a human gets the case rather than the buyer losing it.
func (s *Service) finalizeFailure(ctx context.Context, sub *Submission, reason string) error {
	v := Verdict{Outcome: OutcomeManualReview, Reasons: []string{reason}}
	if err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		return s.recordDecision(txCtx, sub, OutcomeManualReview, nil, v)
	}); err != nil {
		return &transientError{
			Reason: ReasonInternalError,
			Err:    fmt.Errorf("commit failure decision: %w", sentinel.ErrUnavailable),
		}
	}
	s.publishDecided(ctx, sub, OutcomeManualReview, nil, 0, v.Reasons)
	return nil
}

func (s *Service) publishDecided(ctx context.Context, sub *Submission, outcome Outcome, obligationID *uuid.UUID, score float64, reasons []string) {
	err := s.events.PublishDecided(ctx, event.VerificationDecided{
		SubmissionID: sub.ID,
		Outcome:      string(outcome),
		ObligationID: obligationID,
		Score:        score,
		Reasons:      reasons,
		DecidedAt:    s.now().UTC().Unix(),
	})
	if err != nil {
		// Event loss is tolerable; the decision store is the source of truth.
		s.logger.Warn("decided event publish failed", "submission_id", sub.ID, "error", err)
	}
}

// transition moves the submission and audits the move.
func (s *Service) transition(ctx context.Context, sub *Submission, next State) error {
	prev := sub.State
	if !CanTransition(prev, next) {
		return fmt.Errorf("transition %s -> %s: %w", prev, next, sentinel.ErrInvalidState)
	}
	if err := s.submissions.UpdateState(ctx, sub.ID, prev, next); err != nil {
		return fmt.Errorf("transition %s -> %s: %w", prev, next, err)
	}
	sub.State = next
	sub.UpdatedAt = s.now().UTC()

	return s.audit.Emit(ctx, audit.Entry{
		SubmissionID: sub.ID,
		Action:       audit.ActionStateTransition,
		FromState:    string(prev),
		ToState:      string(next),
	})
}

// cancelled re-reads the cancellation flag at a stage boundary.
func (s *Service) cancelled(ctx context.Context, sub *Submission) bool {
	fresh, err := s.submissions.Get(ctx, sub.ID)
	if err != nil {
		return false
	}
	sub.Cancelled = fresh.Cancelled
	return fresh.Cancelled
}

// Cancel flags a submission for cancellation. In-flight stages finish; the
// pipeline observes the flag at the next stage boundary. Submissions that
// already reached a terminal state are not cancellable.
func (s *Service) Cancel(ctx context.Context, submissionID uuid.UUID) error {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	switch sub.State {
	case StateReceived, StateExtracting, StateScoring, StateManualReview:
	default:
		return fmt.Errorf("cancel in state %s: %w", sub.State, sentinel.ErrInvalidState)
	}
	if err := s.submissions.MarkCancelled(ctx, submissionID); err != nil {
		return err
	}
	return s.audit.Emit(ctx, audit.Entry{
		SubmissionID: submissionID,
		Action:       audit.ActionStateTransition,
		FromState:    string(sub.State),
		ToState:      string(StateCancelled),
	})
}

// GetSubmission returns the submission record.
func (s *Service) GetSubmission(ctx context.Context, submissionID uuid.UUID) (*Submission, error) {
	return s.submissions.Get(ctx, submissionID)
}

// GetDecision returns the current decision for a submission. Duplicate
// submissions resolve to the canonical submission's decision.
func (s *Service) GetDecision(ctx context.Context, submissionID uuid.UUID) (*Decision, error) {
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.DuplicateOf != nil {
		return s.decisions.Latest(ctx, *sub.DuplicateOf)
	}
	return s.decisions.Latest(ctx, submissionID)
}

// ListPendingReview returns the open manual-review queue, oldest first.
func (s *Service) ListPendingReview(ctx context.Context, limit int) ([]Decision, error) {
	return s.decisions.ListPendingReview(ctx, limit)
}

// Review records a human override of a manual-review decision. Approval
// commits the obligation CAS the same way auto-approval does; a reviewer
// cannot double-settle an obligation either.
func (s *Service) Review(ctx context.Context, submissionID uuid.UUID, approve bool, obligationID *uuid.UUID, reviewer string) (*Decision, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("reviewer required: %w", sentinel.ErrInvalidState)
	}
	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.State != StateManualReview {
		return nil, fmt.Errorf("review in state %s: %w", sub.State, sentinel.ErrInvalidState)
	}

	prior, err := s.decisions.Latest(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load prior decision: %w", err)
	}

	target := obligationID
	if target == nil {
		target = prior.ObligationID
	}
	if approve && target == nil {
		return nil, fmt.Errorf("approval needs a target obligation: %w", sentinel.ErrInvalidState)
	}

	outcome := OutcomeRejected
	reason := ReasonReviewerRejected
	if approve {
		outcome = OutcomeAutoApproved
		reason = ReasonReviewerApproved
	}

	now := s.now().UTC()
	decision := &Decision{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		Outcome:      outcome,
		ObligationID: target,
		Score:        prior.Score,
		Reasons:      []string{reason},
		Candidates:   prior.Candidates,
		DecidedAt:    now,
		DecidedBy:    reviewer,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if approve {
			ok, err := s.obligations.TryMarkPaid(txCtx, *target, obligation.StatusAwaitingPayment)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("obligation already settled: %w", sentinel.ErrConflict)
			}
		}
		if err := s.decisions.Append(txCtx, decision); err != nil {
			return err
		}
		if err := s.submissions.UpdateState(txCtx, submissionID, StateManualReview, StateResolved); err != nil {
			return err
		}
		return s.audit.Emit(txCtx, audit.Entry{
			SubmissionID: submissionID,
			Action:       audit.ActionManualOverride,
			FromState:    string(StateManualReview),
			ToState:      string(StateResolved),
			Outcome:      string(outcome),
			Score:        decision.Score,
			Reasons:      decision.Reasons,
			Actor:        reviewer,
		})
	})
	if err != nil {
		return nil, err
	}

	s.publishDecided(ctx, &Submission{ID: submissionID}, outcome, target, decision.Score, decision.Reasons)
	return decision, nil
}

// AuditTrail returns the full audit log for a submission, oldest first.
func (s *Service) AuditTrail(ctx context.Context, submissionID uuid.UUID) ([]audit.Entry, error) {
	return s.audit.List(ctx, submissionID)
}
