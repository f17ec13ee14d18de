package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/ai"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/auth"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/authpw"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/blob"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/config"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/response"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/store"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/util"
)

// Session is an authenticated caller: the signed access token, the
// opaque refresh token, and the user it resolves to.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	CreateProject(ctx context.Context, project store.Project) error
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]store.Project, error)
	SetProjectAIResponsePath(ctx context.Context, projectID, path string) error
	AddProjectFile(ctx context.Context, projectID string, file store.ProjectFile) error
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	Lookup(ctx context.Context, tokenHash string) (string, error)
	Revoke(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	blobs     blob.Store
	responses *response.Store
	invoker   ai.Invoker
	sessions  sessionStore
	passwords *authpw.Service
	logger    *zap.Logger
}

func New(cfg config.Config, data dataStore, blobs blob.Store, responses *response.Store, invoker ai.Invoker, sessions sessionStore, passwords *authpw.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     data,
		blobs:     blobs,
		responses: responses,
		invoker:   invoker,
		sessions:  sessions,
		passwords: passwords,
		logger:    logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// BlobReady probes object storage connectivity for the readiness check.
// A missing probe object is fine; only transport errors count.
func (s *Service) BlobReady(ctx context.Context) error {
	_, err := s.blobs.Exists(ctx, ".ready-probe")
	return err
}

func (s *Service) Passwords() *authpw.Service {
	return s.passwords
}

// ── Sessions ──

// CreateSession issues an access token and a refresh token for a user.
// Only the refresh token's hash is stored server-side.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), userID, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken := util.NewID("rt")
	refreshExpiry := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.Save(ctx, auth.HashToken(refreshToken), userID, refreshExpiry); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       userID,
		ExpiresAt:    time.Now().Add(s.cfg.AccessTTL),
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	userID, err := s.sessions.Lookup(ctx, hash)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	_ = s.sessions.Revoke(ctx, hash)
	return s.CreateSession(ctx, userID)
}

// SessionFromToken resolves a bearer token to the caller's session.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	userID, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: userID}, nil
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (store.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// ── Projects ──

type CreateProjectInput struct {
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	CustomPrompt string   `json:"customPrompt"`
}

func (s *Service) CreateProject(ctx context.Context, ownerID string, input CreateProjectInput) (store.Project, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return store.Project{}, errValidation("name is required")
	}
	project := store.Project{
		ID:             util.NewID("proj"),
		Name:           name,
		OwnerID:        ownerID,
		Model:          input.Model,
		Temperature:    input.Temperature,
		CustomPrompt:   input.CustomPrompt,
		AIResponsePath: "",
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return store.Project{}, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func (s *Service) ListProjects(ctx context.Context, ownerID string) ([]store.Project, error) {
	return s.store.ListProjectsByOwner(ctx, ownerID)
}

// ownedProject loads a project and enforces ownership. Foreign projects
// read as not found so their existence is not leaked.
func (s *Service) ownedProject(ctx context.Context, ownerID, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.Project{}, errNotFound("Project not found")
		}
		return store.Project{}, err
	}
	if project.OwnerID != ownerID {
		return store.Project{}, errNotFound("Project not found")
	}
	return project, nil
}

// ProjectDetail is a project plus short-lived signed URLs for its
// stored blobs, so the frontend never talks to object storage with
// real credentials.
type ProjectDetail struct {
	Project     store.Project `json:"project"`
	PDFURL      string        `json:"pdfUrl,omitempty"`
	ResponseURL string        `json:"responseUrl,omitempty"`
}

func (s *Service) GetProject(ctx context.Context, ownerID, projectID string) (ProjectDetail, error) {
	project, err := s.ownedProject(ctx, ownerID, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	detail := ProjectDetail{Project: project}
	if project.PDFPath != "" {
		if url, err := s.blobs.PresignGet(ctx, project.PDFPath, s.cfg.SignedURLTTL); err == nil {
			detail.PDFURL = url
		} else {
			s.logger.Warn("presign pdf url failed", zap.String("project", projectID), zap.Error(err))
		}
	}
	responsePath := project.AIResponsePath
	if responsePath == "" {
		responsePath = response.DefaultPath(projectID)
	}
	if ok, _ := s.blobs.Exists(ctx, responsePath); ok {
		if url, err := s.blobs.PresignGet(ctx, responsePath, s.cfg.SignedURLTTL); err == nil {
			detail.ResponseURL = url
		}
	}
	return detail, nil
}

// ── Response documents ──

func (s *Service) responsePath(project store.Project) string {
	if project.AIResponsePath != "" {
		return project.AIResponsePath
	}
	return response.DefaultPath(project.ID)
}

func (s *Service) GetResponse(ctx context.Context, ownerID, projectID string) (*response.Result, error) {
	project, err := s.ownedProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}
	return s.responses.Get(ctx, s.responsePath(project))
}

// EditResponse applies a direct edit to the response document. The body
// is split into the conversation pair (question/answer) and the raw
// patch for everything else; the response store does the merging.
func (s *Service) EditResponse(ctx context.Context, ownerID, projectID string, body map[string]any) (*response.Result, error) {
	project, err := s.ownedProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}

	update := response.Update{RawPatch: body}
	if question, ok := body["question"].(string); ok {
		update.Question = question
	}
	if answer, ok := body["answer"].(string); ok {
		update.Answer = answer
	}

	docPath := s.responsePath(project)
	result, err := s.responses.ApplyUpdate(ctx, docPath, update)
	if err != nil {
		return nil, err
	}
	s.recordResponsePath(ctx, project, docPath)
	return result, nil
}

// Ask runs one conversation turn: snapshot the current document to a
// temp context file, call the model under the configured timeout, then
// append the turn and fold any structured block into the estimate.
func (s *Service) Ask(ctx context.Context, ownerID, projectID, prompt string) (*response.Result, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", errValidation("prompt is required")
	}
	project, err := s.ownedProject(ctx, ownerID, projectID)
	if err != nil {
		return nil, "", err
	}

	docPath := s.responsePath(project)
	current, err := s.responses.Get(ctx, docPath)
	if err != nil {
		return nil, "", err
	}

	contextFile, err := s.writeContextFile(current.Document)
	if err != nil {
		return nil, "", fmt.Errorf("write context file: %w", err)
	}
	defer os.Remove(contextFile)

	invokeCtx, cancel := context.WithTimeout(ctx, s.cfg.AskTimeout)
	defer cancel()
	answer, err := s.invoker.Invoke(invokeCtx, prompt, contextFile)
	if err != nil {
		s.logger.Warn("ai invocation failed",
			zap.String("project", projectID),
			zap.Error(err),
		)
		return nil, "", err
	}

	result, err := s.responses.ApplyUpdate(ctx, docPath, response.Update{
		Question: prompt,
		Answer:   answer.Content,
	})
	if err != nil {
		return nil, "", err
	}
	s.recordResponsePath(ctx, project, docPath)
	return result, answer.Content, nil
}

// writeContextFile dumps the document to a request-scoped temp file in
// the shape the invoker expects. The caller removes it.
func (s *Service) writeContextFile(doc *response.Document) (string, error) {
	encoded, err := doc.Encode()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(map[string]any{
		"pageText": string(encoded),
	})
	if err != nil {
		return "", err
	}
	file, err := os.CreateTemp("", "ask-context-*.json")
	if err != nil {
		return "", err
	}
	if _, err := file.Write(payload); err != nil {
		file.Close()
		os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

// recordResponsePath persists the document path on the project record
// the first time a document is written. Failure here is non-fatal: the
// path is deterministic and readable without the record.
func (s *Service) recordResponsePath(ctx context.Context, project store.Project, docPath string) {
	if project.AIResponsePath == docPath {
		return
	}
	if err := s.store.SetProjectAIResponsePath(ctx, project.ID, docPath); err != nil {
		s.logger.Warn("record response path failed",
			zap.String("project", project.ID),
			zap.Error(err),
		)
	}
}

// ── Estimation table ──

// GetEstimationTable reads the standalone estimation table blob. Unlike
// the response document there is no skeleton: absent means 404.
func (s *Service) GetEstimationTable(ctx context.Context, ownerID, projectID string) (json.RawMessage, error) {
	if _, err := s.ownedProject(ctx, ownerID, projectID); err != nil {
		return nil, err
	}
	data, _, err := s.blobs.Download(ctx, response.EstimationTablePath(projectID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, errNotFound("Estimation table not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load estimation table: %w", err)
	}
	return json.RawMessage(data), nil
}

// PutEstimationTable replaces the estimation table wholesale. The table
// is a single user-owned artifact, so last writer wins.
func (s *Service) PutEstimationTable(ctx context.Context, ownerID, projectID string, table map[string]any) error {
	if _, err := s.ownedProject(ctx, ownerID, projectID); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return errValidation("table must be a JSON object")
	}
	if _, err := s.blobs.Upload(ctx, response.EstimationTablePath(projectID), encoded, "application/json", blob.WriteCondition{}); err != nil {
		return fmt.Errorf("save estimation table: %w", err)
	}
	return nil
}

// ── PDF pipeline ──

// ProcessPDF stores an uploaded PDF and runs the extraction pipeline,
// reporting progress through emit as it goes. tempPath is the uploaded
// file on local disk; the HTTP layer owns its cleanup.
func (s *Service) ProcessPDF(ctx context.Context, ownerID, projectID, filename, tempPath string, emit func(event, data string)) error {
	project, err := s.ownedProject(ctx, ownerID, projectID)
	if err != nil {
		return err
	}

	emit("progress", "uploading pdf to storage")
	data, err := os.ReadFile(tempPath)
	if err != nil {
		return fmt.Errorf("read uploaded pdf: %w", err)
	}
	blobPath := path.Join(fmt.Sprintf("project_%s", project.ID), filename)
	if _, err := s.blobs.Upload(ctx, blobPath, data, "application/pdf", blob.WriteCondition{}); err != nil {
		return fmt.Errorf("store pdf: %w", err)
	}
	if err := s.store.AddProjectFile(ctx, project.ID, store.ProjectFile{
		Name:       filename,
		Type:       "application/pdf",
		Path:       blobPath,
		UploadedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("record pdf upload: %w", err)
	}

	emit("progress", "extracting pdf content")
	if err := s.runPDFPipeline(ctx, project.ID, tempPath, emit); err != nil {
		return err
	}
	emit("done", blobPath)
	return nil
}

// runPDFPipeline shells out to the Python extraction pipeline and
// relays each stdout line as a progress event.
func (s *Service) runPDFPipeline(ctx context.Context, projectID, pdfPath string, emit func(event, data string)) error {
	script := filepath.Join(s.cfg.ScriptsDir, "pdf_pipeline.py")
	cmd := exec.CommandContext(ctx, s.cfg.PythonBin, script, pdfPath, projectID)
	ai.ConfigureAbort(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipeline stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start pdf pipeline: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			emit("progress", line)
		}
	}

	if err := cmd.Wait(); err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		if ctx.Err() != nil {
			return fmt.Errorf("pdf pipeline aborted: %w", ctx.Err())
		}
		return fmt.Errorf("pdf pipeline failed: %w", err)
	}
	return nil
}
