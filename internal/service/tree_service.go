package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/analysis"
	"github.com/vbonduro/treebank/internal/catalog"
	"github.com/vbonduro/treebank/internal/domain"
	"github.com/vbonduro/treebank/internal/metrics"
	"github.com/vbonduro/treebank/internal/photostore"
	"github.com/vbonduro/treebank/internal/portfolio"
	"github.com/vbonduro/treebank/internal/prompt"
	"github.com/vbonduro/treebank/internal/valuation"
	"github.com/vbonduro/treebank/internal/vision"
)

const (
	opAnalyze = "analyze"
	opChat    = "chat"

	photoPrefix = "tree"
)

var ErrInvalidInput = goerr.New("invalid input")

type treeRepository interface {
	Append(ctx context.Context, rec domain.TreeRecord) (string, error)
	List(ctx context.Context) ([]domain.TreeRecord, error)
	Get(ctx context.Context, id string) (domain.TreeRecord, error)
	Update(ctx context.Context, id string, fn func(*domain.TreeRecord) error) (domain.TreeRecord, error)
	AddCareLog(ctx context.Context, id string, entry domain.CareLog) (domain.TreeRecord, error)
	Delete(ctx context.Context, id string) (domain.TreeRecord, error)
	Stats(ctx context.Context) (portfolio.Stats, error)
	Export(ctx context.Context) ([]byte, error)
}

type chatLog interface {
	AppendTurns(ctx context.Context, sessionID, treeID string, turns ...domain.ChatTurn) error
	List(ctx context.Context, sessionID string) ([]domain.ChatTurn, error)
	Sessions(ctx context.Context) ([]domain.ChatSession, error)
}

type promptCatalog interface {
	Lookup(key string) (domain.PromptTemplate, error)
	Match(name string) (domain.PromptTemplate, bool)
	SpeciesContext() string
	Export() []domain.PromptTemplate
}

// TreeService runs one analysis or chat exchange at a time per call and owns
// every write to the portfolio, photo store and chat log.
type TreeService struct {
	trees     treeRepository
	chats     chatLog
	prompts   promptCatalog
	visionAPI vision.Client
	photoStg  photostore.PhotoStore
	metrics   *metrics.Metrics
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func NewTreeService(
	trees treeRepository,
	chats chatLog,
	prompts promptCatalog,
	visionAPI vision.Client,
	photoStg photostore.PhotoStore,
	m *metrics.Metrics,
	modelTimeout time.Duration,
	logger *slog.Logger,
) *TreeService {
	return &TreeService{
		trees:     trees,
		chats:     chats,
		prompts:   prompts,
		visionAPI: visionAPI,
		photoStg:  photoStg,
		metrics:   m,
		timeout:   modelTimeout,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

type AnalyzeRequest struct {
	Image      []byte
	MIMEType   string
	SpeciesKey string
	Question   string
	Location   string
}

// AnalyzeOutcome is everything the caller needs to render or save one
// analysis. Match is nil when the reported species is not in the catalog.
type AnalyzeOutcome struct {
	TemplateKey string                 `json:"template_key"`
	Result      analysis.Result        `json:"result"`
	Estimate    valuation.Estimate     `json:"estimate"`
	Match       *domain.PromptTemplate `json:"match,omitempty"`
	Location    string                 `json:"location,omitempty"`
	MIMEType    string                 `json:"-"`
}

// Analyze sends the photo to the model with the selected species template and
// renders the reply. Nothing is persisted.
func (s *TreeService) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeOutcome, error) {
	if len(req.Image) == 0 {
		return nil, goerr.Wrap(ErrInvalidInput, "image is empty")
	}

	key := strings.TrimSpace(req.SpeciesKey)
	if key == "" {
		key = catalog.DefaultKey
	}
	tmpl, err := s.prompts.Lookup(key)
	if err != nil {
		return nil, err
	}

	mimeType := vision.NormaliseMIME(req.MIMEType)
	payload := prompt.Format(tmpl.Template, req.Image, mimeType, prompt.Inputs{
		prompt.Question:       req.Question,
		prompt.Location:       req.Location,
		prompt.Species:        speciesLabel(tmpl),
		prompt.SpeciesContext: s.prompts.SpeciesContext(),
	})

	s.logger.Info("vision analysis started", "template", key, "mime_type", mimeType, "bytes", len(req.Image))
	raw, err := s.infer(ctx, opAnalyze, payload)
	if err != nil {
		s.logger.Error("vision analysis failed", "template", key, "error", err)
		return nil, err
	}

	result := analysis.Parse(raw)
	out := &AnalyzeOutcome{
		TemplateKey: key,
		Result:      result,
		Location:    strings.TrimSpace(req.Location),
		MIMEType:    mimeType,
	}

	var ref *domain.PromptTemplate
	if name, ok := result.Species.Get(); ok {
		if m, ok := s.prompts.Match(name); ok {
			out.Match = &m
			ref = &m
		}
	}
	if ref == nil && key != catalog.DefaultKey {
		ref = &tmpl
	}
	out.Estimate = valuation.Calculate(result, ref)

	s.logger.Info("vision analysis complete",
		"template", key,
		"species", result.Species.OrElse(""),
		"health", result.Status(),
		"estimate_source", out.Estimate.Source,
	)
	return out, nil
}

type SaveRequest struct {
	Outcome  *AnalyzeOutcome
	Image    []byte
	Name     string
	Location string
	Notes    string
}

// SaveTree stores the photo and then the record. If the record cannot be
// written the photo is removed again.
func (s *TreeService) SaveTree(ctx context.Context, req SaveRequest) (domain.TreeRecord, error) {
	if req.Outcome == nil {
		return domain.TreeRecord{}, goerr.Wrap(ErrInvalidInput, "nothing to save")
	}
	rec := recordFromOutcome(req)

	if len(req.Image) > 0 {
		key, err := s.photoStg.Save(ctx, photoPrefix, req.Outcome.MIMEType, bytes.NewReader(req.Image))
		if err != nil {
			return domain.TreeRecord{}, goerr.Wrap(err, "failed to save photo")
		}
		s.logger.Debug("photo saved", "storage_key", key)
		rec.ImageReference = key
	}

	id, err := s.trees.Append(ctx, rec)
	if err != nil {
		if rec.ImageReference != "" {
			if stgErr := s.photoStg.Delete(ctx, rec.ImageReference); stgErr != nil {
				s.logger.Error("failed to roll back photo after save error", "storage_key", rec.ImageReference, "error", stgErr)
			}
		}
		return domain.TreeRecord{}, err
	}
	s.metrics.TreeSaved()
	s.logger.Info("tree saved", "id", id, "species", rec.Species)
	return s.trees.Get(ctx, id)
}

func recordFromOutcome(req SaveRequest) domain.TreeRecord {
	r := req.Outcome.Result
	species := r.Species.OrElse("")
	sci := r.ScientificName.OrElse("")
	if m := req.Outcome.Match; m != nil && sci == "" {
		sci = m.ScientificName
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = species
	}
	if name == "" {
		name = "Unnamed tree"
	}

	location := strings.TrimSpace(req.Location)
	if location == "" {
		location = req.Outcome.Location
	}

	return domain.TreeRecord{
		Name:                       name,
		Species:                    species,
		ScientificName:             sci,
		HealthStatus:               r.Status(),
		HealthScore:                r.HealthScore.Ptr(),
		HeightEstimateMeters:       r.Height.Ptr(),
		CanopyWidthEstimateMeters:  r.CanopyWidth.Ptr(),
		AgeEstimateYears:           r.Age.Ptr(),
		CarbonSequesteredKgPerYear: req.Outcome.Estimate.CarbonKgPerYear.Ptr(),
		MonetaryValueEstimate:      req.Outcome.Estimate.Value.Ptr(),
		Location:                   location,
		Notes:                      strings.TrimSpace(req.Notes),
	}
}

type ChatRequest struct {
	SessionID string
	Message   string
	TreeID    string
	Log       bool
}

type ChatOutcome struct {
	SessionID string          `json:"session_id"`
	Reply     domain.ChatTurn `json:"reply"`
	Logged    bool            `json:"logged"`
}

// Chat answers a care question using the chat template. The tree context
// comes from TreeID when set, otherwise from the most recently saved tree.
func (s *TreeService) Chat(ctx context.Context, req ChatRequest) (*ChatOutcome, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, goerr.Wrap(ErrInvalidInput, "message is empty")
	}

	tmpl, err := s.prompts.Lookup(catalog.ChatKey)
	if err != nil {
		return nil, err
	}

	tree, err := s.contextTree(ctx, req.TreeID)
	if err != nil {
		return nil, err
	}

	payload := prompt.Format(tmpl.Template, nil, "", prompt.Inputs{
		prompt.Question:       message,
		prompt.TreeContext:    treeContext(tree),
		prompt.SpeciesContext: s.prompts.SpeciesContext(),
	})

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	asked := s.now()
	s.logger.Info("chat started", "session_id", sessionID, "tree_id", treeID(tree))
	text, err := s.infer(ctx, opChat, payload)
	if err != nil {
		s.logger.Error("chat failed", "session_id", sessionID, "error", err)
		return nil, err
	}

	out := &ChatOutcome{
		SessionID: sessionID,
		Reply:     domain.ChatTurn{Role: domain.RoleAssistant, Text: text, Timestamp: s.now()},
	}
	if !req.Log {
		return out, nil
	}

	turns := []domain.ChatTurn{
		{Role: domain.RoleUser, Text: message, Timestamp: asked},
		out.Reply,
	}
	if err := s.chats.AppendTurns(ctx, sessionID, treeID(tree), turns...); err != nil {
		return nil, goerr.Wrap(err, "failed to log chat turns", goerr.V("session_id", sessionID))
	}
	s.metrics.ChatTurnsLogged(len(turns))
	out.Logged = true
	return out, nil
}

func (s *TreeService) contextTree(ctx context.Context, id string) (*domain.TreeRecord, error) {
	if id = strings.TrimSpace(id); id != "" {
		rec, err := s.trees.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}

	records, err := s.trees.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	portfolio.SortByCreated(records)
	return &records[0], nil
}

func treeContext(t *domain.TreeRecord) string {
	if t == nil {
		return "No saved trees yet."
	}
	var b strings.Builder
	b.WriteString(t.Name)
	if t.Species != "" {
		fmt.Fprintf(&b, " (%s)", t.Species)
	}
	fmt.Fprintf(&b, ", health: %s", t.HealthStatus)
	if t.HealthScore != nil {
		fmt.Fprintf(&b, " %d%%", *t.HealthScore)
	}
	if t.Location != "" {
		fmt.Fprintf(&b, ", location: %s", t.Location)
	}
	if n := len(t.CareLogs); n > 0 {
		last := t.CareLogs[n-1]
		fmt.Fprintf(&b, ", last care: %s on %s", last.Activity, last.LoggedAt.Format("2006-01-02"))
	}
	return b.String()
}

func treeID(t *domain.TreeRecord) string {
	if t == nil {
		return ""
	}
	return t.ID
}

func speciesLabel(t domain.PromptTemplate) string {
	if t.Key == catalog.DefaultKey {
		return ""
	}
	if t.ScientificName != "" {
		return t.Key + " (" + t.ScientificName + ")"
	}
	return t.Key
}

// infer bounds a model call by the configured timeout and records it.
func (s *TreeService) infer(ctx context.Context, op string, p prompt.Payload) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.visionAPI.Infer(ctx, p)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, vision.ErrTransport) {
		err = goerr.Wrap(vision.ErrTransport, "model request timed out", goerr.V("timeout", s.timeout.String()))
	}
	s.metrics.ObserveModelCall(op, time.Since(start), vision.Kind(err))
	return text, err
}

func (s *TreeService) ListTrees(ctx context.Context) ([]domain.TreeRecord, error) {
	records, err := s.trees.List(ctx)
	if err != nil {
		return nil, err
	}
	portfolio.SortByCreated(records)
	return records, nil
}

func (s *TreeService) GetTree(ctx context.Context, id string) (domain.TreeRecord, error) {
	return s.trees.Get(ctx, id)
}

// TreeUpdate carries the user-editable fields. Nil fields are left as they
// are.
type TreeUpdate struct {
	Name         *string              `json:"name"`
	Location     *string              `json:"location"`
	Notes        *string              `json:"notes"`
	HealthStatus *domain.HealthStatus `json:"health_status"`
	HealthScore  *int                 `json:"health_score"`
}

func (s *TreeService) UpdateTree(ctx context.Context, id string, u TreeUpdate) (domain.TreeRecord, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return domain.TreeRecord{}, goerr.Wrap(ErrInvalidInput, "name is empty")
	}
	if u.HealthStatus != nil && !u.HealthStatus.Valid() {
		return domain.TreeRecord{}, goerr.Wrap(ErrInvalidInput, "unknown health status", goerr.V("health_status", *u.HealthStatus))
	}
	if u.HealthScore != nil && (*u.HealthScore < 0 || *u.HealthScore > 100) {
		return domain.TreeRecord{}, goerr.Wrap(ErrInvalidInput, "health score out of range", goerr.V("health_score", *u.HealthScore))
	}

	return s.trees.Update(ctx, id, func(rec *domain.TreeRecord) error {
		if u.Name != nil {
			rec.Name = strings.TrimSpace(*u.Name)
		}
		if u.Location != nil {
			rec.Location = strings.TrimSpace(*u.Location)
		}
		if u.Notes != nil {
			rec.Notes = strings.TrimSpace(*u.Notes)
		}
		if u.HealthStatus != nil {
			rec.HealthStatus = *u.HealthStatus
		}
		if u.HealthScore != nil {
			score := *u.HealthScore
			rec.HealthScore = &score
		}
		return nil
	})
}

// DeleteTree removes the record and then its photo. A photo that cannot be
// removed is logged, not returned.
func (s *TreeService) DeleteTree(ctx context.Context, id string) error {
	rec, err := s.trees.Delete(ctx, id)
	if err != nil {
		return err
	}
	if rec.ImageReference == "" {
		return nil
	}
	if err := s.photoStg.Delete(ctx, rec.ImageReference); err != nil && !errors.Is(err, photostore.ErrNotFound) {
		s.logger.Error("failed to delete photo file", "storage_key", rec.ImageReference, "error", err)
	}
	return nil
}

func (s *TreeService) AddCareLog(ctx context.Context, id, activity, notes string) (domain.TreeRecord, error) {
	return s.trees.AddCareLog(ctx, id, domain.CareLog{
		Activity: strings.TrimSpace(activity),
		Notes:    strings.TrimSpace(notes),
		LoggedAt: s.now(),
	})
}

// TreePhoto opens the stored image for a tree. The caller closes the reader.
func (s *TreeService) TreePhoto(ctx context.Context, id string) (io.ReadCloser, string, error) {
	rec, err := s.trees.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if rec.ImageReference == "" {
		return nil, "", goerr.Wrap(photostore.ErrNotFound, "tree has no photo", goerr.V("id", id))
	}
	return s.photoStg.Get(ctx, rec.ImageReference)
}

func (s *TreeService) Stats(ctx context.Context) (portfolio.Stats, error) {
	return s.trees.Stats(ctx)
}

func (s *TreeService) Export(ctx context.Context) ([]byte, error) {
	return s.trees.Export(ctx)
}

func (s *TreeService) Prompts() []domain.PromptTemplate {
	return s.prompts.Export()
}

func (s *TreeService) ChatHistory(ctx context.Context, sessionID string) ([]domain.ChatTurn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, goerr.Wrap(ErrInvalidInput, "session id is empty")
	}
	return s.chats.List(ctx, sessionID)
}

func (s *TreeService) ChatSessions(ctx context.Context) ([]domain.ChatSession, error) {
	return s.chats.Sessions(ctx)
}
