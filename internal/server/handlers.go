package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rubricgate/rubricgate/internal/evaluate"
	"github.com/rubricgate/rubricgate/internal/generate"
	"github.com/rubricgate/rubricgate/internal/schema"
	"github.com/rubricgate/rubricgate/internal/store"
)

// ── Evaluation ──

type evaluateRequest struct {
	RubricIDs []string `json:"rubricIds"`
	// Either a bare candidate text or a list of attributed candidates.
	CandidateResponse  string                     `json:"candidateResponse"`
	CandidateResponses []schema.CandidateResponse `json:"candidateResponses"`
}

type evaluateResponse struct {
	Evaluations []schema.RubricEvaluation `json:"evaluations"`
	AllAgree    bool                      `json:"allAgree"`
	CanSubmit   bool                      `json:"canSubmit"`
}

func (s *Server) evaluateRubrics(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if len(req.RubricIDs) == 0 {
		writeError(w, http.StatusBadRequest, "rubricIds array is required and cannot be empty")
		return
	}

	candidates := req.CandidateResponses
	if len(candidates) == 0 && strings.TrimSpace(req.CandidateResponse) != "" {
		candidates = []schema.CandidateResponse{{GeneratorName: "candidate", Text: req.CandidateResponse}}
	}
	if len(candidates) == 0 {
		writeError(w, http.StatusBadRequest, "candidateResponse or candidateResponses is required")
		return
	}
	for i, c := range candidates {
		if strings.TrimSpace(c.Text) == "" {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("candidateResponses[%d]: response text cannot be empty", i))
			return
		}
	}

	ctx := r.Context()
	ids := dedupeIDs(req.RubricIDs)
	rubrics, err := s.store.GetRubricsByIDs(ctx, ids)
	if err != nil {
		s.log.Error().Err(err).Msg("rubric lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load rubrics")
		return
	}
	if len(rubrics) != len(ids) {
		// A count mismatch is surfaced with the missing ids, never silently
		// ignored.
		writeErrorDetails(w, http.StatusNotFound, "one or more rubrics not found", map[string]any{
			"requested": len(ids),
			"found":     len(rubrics),
			"missing":   missingIDs(ids, rubrics),
		})
		return
	}
	rubrics = orderRubrics(ids, rubrics)

	evals, err := s.evaluator.EvaluateRubrics(ctx, rubrics, candidates)
	if err != nil {
		var ve *evaluate.ValidationError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusBadRequest, ve.Error())
		case errors.Is(err, evaluate.ErrAllJudgesFailed):
			s.log.Error().Err(err).Msg("all judges failed")
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.log.Error().Err(err).Msg("evaluation failed")
			writeError(w, http.StatusInternalServerError, "failed to evaluate rubrics")
		}
		return
	}

	decision := s.gate.Decide(evals)
	writeJSON(w, http.StatusOK, evaluateResponse{
		Evaluations: evals,
		AllAgree:    decision.Accept,
		CanSubmit:   decision.Accept,
	})
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// orderRubrics arranges rubrics in the order their ids were requested, since
// the store's IN query returns rows in arbitrary order.
func orderRubrics(ids []string, rubrics []schema.Rubric) []schema.Rubric {
	byID := make(map[string]schema.Rubric, len(rubrics))
	for _, r := range rubrics {
		byID[r.ID] = r
	}
	out := make([]schema.Rubric, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

func missingIDs(requested []string, found []schema.Rubric) []string {
	have := make(map[string]bool, len(found))
	for _, r := range found {
		have[r.ID] = true
	}
	var missing []string
	for _, id := range requested {
		if !have[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

// ── Response generation ──

type generateRequest struct {
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}

// generateResponses produces one candidate response per configured source
// using the task's system prompt. The message defaults to the task
// description when the client supplies none.
func (s *Server) generateResponses(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == "" {
		writeError(w, http.StatusBadRequest, "taskId is required")
		return
	}

	task, err := s.store.GetTask(r.Context(), req.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("task lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = task.Description
	}

	responses, err := s.generator.Generate(r.Context(), task.SystemPrompt, message)
	if errors.Is(err, generate.ErrNoResponses) {
		s.log.Error().Err(err).Str("task", task.ID).Msg("response generation failed")
		writeError(w, http.StatusBadGateway, "all response sources failed")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("response generation failed")
		writeError(w, http.StatusInternalServerError, "failed to generate responses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"responses": responses})
}

// ── Submissions ──

type submissionRequest struct {
	TaskID      string                     `json:"taskId"`
	Username    string                     `json:"username"`
	Responses   []schema.CandidateResponse `json:"llmResponses"`
	Evaluations []schema.RubricEvaluation  `json:"rubrics"`
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == "" || req.Username == "" || len(req.Responses) == 0 || len(req.Evaluations) == 0 {
		writeError(w, http.StatusBadRequest, "taskId, username, llmResponses, and rubrics are required")
		return
	}
	for _, eval := range req.Evaluations {
		for _, cand := range eval.Candidates {
			for _, res := range cand.Results {
				if res.Score < schema.ScoreMin || res.Score > schema.ScoreMax {
					writeError(w, http.StatusBadRequest,
						fmt.Sprintf("rubric %q: judge score %v outside [0, 10]", eval.RubricName, res.Score))
					return
				}
			}
		}
	}

	ctx := r.Context()
	user, err := s.store.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("user lookup failed")
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	// The gate recomputes agreement from the raw scores; any status fields
	// in the request body are ignored.
	decision := s.gate.Decide(req.Evaluations)
	if !decision.Accept {
		reasons := make([]string, len(decision.Rejections))
		for i, rej := range decision.Rejections {
			reasons[i] = rej.Reason()
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "submission blocked: judge scores lack agreement",
			"rejections": decision.Rejections,
			"reasons":    reasons,
		})
		return
	}

	sub := &schema.Submission{
		TaskID:        req.TaskID,
		Responses:     req.Responses,
		Evaluations:   req.Evaluations,
		WalletAddress: user.WalletAddress,
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		s.log.Error().Err(err).Msg("insert submission failed")
		writeError(w, http.StatusInternalServerError, "failed to store submission")
		return
	}

	// The response must reflect what was actually written: a failed point
	// award is reported as zero points, not assumed to have succeeded.
	pointsAwarded := 1
	totalPoints := user.Points + 1
	if err := s.store.AddPoints(ctx, user.ID, 1); err != nil {
		s.log.Error().Err(err).Str("user", user.ID).Msg("point award failed")
		pointsAwarded = 0
		totalPoints = user.Points
	}
	position, err := s.store.Rank(ctx, user.ID)
	if err != nil {
		s.log.Error().Err(err).Str("user", user.ID).Msg("rank lookup failed")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"submissionId":  sub.ID,
		"position":      position,
		"pointsAwarded": pointsAwarded,
		"totalPoints":   totalPoints,
	})
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	subs, err := s.store.ListSubmissions(r.Context(), limit, offset)
	if err != nil {
		s.log.Error().Err(err).Msg("list submissions failed")
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submissions": subs})
}

// ── Tasks ──

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") == ""
	tasks, err := s.store.ListTasks(r.Context(), activeOnly)
	if err != nil {
		s.log.Error().Err(err).Msg("list tasks failed")
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var t schema.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if t.Name == "" || t.Description == "" {
		writeError(w, http.StatusBadRequest, "name and description are required")
		return
	}
	if err := s.store.CreateTask(r.Context(), &t); err != nil {
		s.log.Error().Err(err).Msg("create task failed")
		writeError(w, http.StatusInternalServerError, "failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("get task failed")
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var t schema.Task
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t.ID = chi.URLParam(r, "id")
	err := s.store.UpdateTask(r.Context(), &t)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("update task failed")
		writeError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteTask(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("delete task failed")
		writeError(w, http.StatusInternalServerError, "failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ── Rubrics ──

func (s *Server) listRubrics(w http.ResponseWriter, r *http.Request) {
	rubrics, err := s.store.ListRubrics(r.Context(), r.URL.Query().Get("taskId"))
	if err != nil {
		s.log.Error().Err(err).Msg("list rubrics failed")
		writeError(w, http.StatusInternalServerError, "failed to list rubrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rubrics": rubrics})
}

func (s *Server) createRubric(w http.ResponseWriter, r *http.Request) {
	var rub schema.Rubric
	if err := json.NewDecoder(r.Body).Decode(&rub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rub.Name == "" || rub.Description == "" || rub.TaskID == "" {
		writeError(w, http.StatusBadRequest, "name, description, and taskId are required")
		return
	}
	err := s.store.CreateRubric(r.Context(), &rub)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("create rubric failed")
		writeError(w, http.StatusInternalServerError, "failed to create rubric")
		return
	}
	writeJSON(w, http.StatusCreated, rub)
}

func (s *Server) searchRubrics(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	rubrics, err := s.store.SearchRubrics(r.Context(), q)
	if err != nil {
		s.log.Error().Err(err).Msg("search rubrics failed")
		writeError(w, http.StatusInternalServerError, "failed to search rubrics")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rubrics": rubrics})
}

// ── Users & leaderboard ──

type registerRequest struct {
	Username      string `json:"username"`
	WalletAddress string `json:"walletAddress"`
}

func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validUsername(req.Username) {
		writeError(w, http.StatusBadRequest, "username must be 3-20 characters of letters, digits, or underscore")
		return
	}
	if req.WalletAddress == "" {
		writeError(w, http.StatusBadRequest, "walletAddress is required")
		return
	}

	user := &schema.User{Username: req.Username, WalletAddress: req.WalletAddress}
	err := s.store.RegisterUser(r.Context(), user)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, http.StatusConflict, "username or wallet address already registered")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("register user failed")
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.Leaderboard(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.log.Error().Err(err).Msg("leaderboard failed")
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func validUsername(u string) bool {
	if len(u) < 3 || len(u) > 20 {
		return false
	}
	for _, c := range u {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
