package api

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/ladder/internal/domain"
	"github.com/victornm/ladder/internal/errors"
	"github.com/victornm/ladder/internal/event"
	"github.com/victornm/ladder/internal/leaderboard"
	"github.com/victornm/ladder/internal/score"
	"github.com/victornm/ladder/internal/session"
)

type Config struct {
	Router       gin.IRouter
	GRPC         *grpc.Server
	EventBus     *event.Bus
	Session      *session.Service
	Score        *score.Service
	Leaderboard  *leaderboard.Service
	Hub          *Hub
	Redis        Redis
	PubsubPrefix string
	AuthSecret   string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	ss *session.Service
	sc *score.Service
	ls *leaderboard.Service

	eb     *event.Bus
	hub    *Hub
	health *health.Server
	redis  Redis
	prefix string
	secret string
}

func New(c Config) *API {
	a := &API{
		ss:     c.Session,
		sc:     c.Score,
		ls:     c.Leaderboard,
		eb:     c.EventBus,
		hub:    c.Hub,
		health: health.NewServer(),
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
		secret: c.AuthSecret,
	}

	if a.hub == nil {
		a.hub = NewHub()
	}

	// HTTP APIs
	v1 := c.Router.Group("/api/v1")
	v1.GET("/leaderboard", a.GetLeaderboard)

	authed := v1.Group("", a.authenticate())
	authed.POST("/games/start", a.StartGame)
	authed.POST("/games/answer", a.SubmitAnswer)
	authed.POST("/games/lifeline", a.UseLifeline)
	authed.POST("/games/quit", a.QuitGame)
	authed.POST("/games/sessions/:id/complete", a.CompleteGame)
	authed.GET("/me/stats", a.GetMyStats)
	authed.GET("/me/history", a.GetMyHistory)
	authed.GET("/ws", a.ServeWS)

	// gRPC APIs
	if c.GRPC != nil {
		healthpb.RegisterHealthServer(c.GRPC, a.health)
	}

	// Register event handlers
	a.subscribe()

	return a
}

// Close reports the service as not serving and disconnects websocket clients.
func (a *API) Close() {
	a.health.Shutdown()
	a.hub.Close()
}

type (
	ErrorResponse struct {
		Error ErrorBody `json:"error"`
	}

	ErrorBody struct {
		Code    string `json:"code"`
		Reason  string `json:"reason,omitempty"`
		Message string `json:"message"`
	}
)

func (a *API) abort(c *gin.Context, err error) {
	e := errors.Convert(err)

	switch e.Code {
	case errors.CodeInternal, errors.CodeUnavailable:
		slog.ErrorContext(c.Request.Context(), "api: request failed", "route", c.FullPath(), "error", err)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{
		Error: ErrorBody{
			Code:    codes.Code(e.Code).String(),
			Reason:  e.Reason,
			Message: e.Message,
		},
	})
}

func (a *API) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body: %v", err),
		))
		return false
	}
	return true
}

type (
	StartGameRequest struct {
		GameID string `json:"gameId"`
	}

	Game struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Theme string `json:"theme"`
	}

	Question struct {
		ID      string    `json:"id"`
		Text    string    `json:"text"`
		Options [4]string `json:"options"`
		Level   int       `json:"level"`
		Stake   int64     `json:"stake"`
	}

	StartGameResponse struct {
		SessionID string   `json:"sessionId"`
		Game      Game     `json:"game"`
		Question  Question `json:"question"`
	}
)

func toQuestion(q session.QuestionView) Question {
	return Question{
		ID:      q.ID,
		Text:    q.Text,
		Options: q.Options,
		Level:   q.Level,
		Stake:   q.Stake,
	}
}

func (a *API) StartGame(c *gin.Context) {
	var req StartGameRequest
	// an empty body starts the default game
	if err := c.ShouldBindJSON(&req); err != nil && !stderrors.Is(err, io.EOF) {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request body: %v", err)))
		return
	}

	resp, err := a.ss.Start(c.Request.Context(), session.StartRequest{
		Player: playerFrom(c),
		GameID: req.GameID,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, StartGameResponse{
		SessionID: resp.SessionID,
		Game: Game{
			ID:    resp.Game.ID,
			Title: resp.Game.Title,
			Theme: resp.Game.Theme,
		},
		Question: toQuestion(resp.Question),
	})
}

type (
	SubmitAnswerRequest struct {
		SessionID string `json:"sessionId" binding:"required"`
		Answer    string `json:"answer" binding:"required"`
	}

	SubmitAnswerResponse struct {
		Status       domain.Status `json:"status"`
		Correct      bool          `json:"correct"`
		Level        int           `json:"level"`
		Stake        int64         `json:"stake"`
		MoneyWon     int64         `json:"moneyWon"`
		NextQuestion *Question     `json:"nextQuestion,omitempty"`
	}
)

func (a *API) SubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.ss.SubmitAnswer(c.Request.Context(), session.AnswerRequest{
		SessionID: req.SessionID,
		Player:    playerFrom(c),
		Answer:    req.Answer,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	out := SubmitAnswerResponse{
		Status:   resp.Status,
		Correct:  resp.Correct,
		Level:    resp.Level,
		Stake:    resp.Stake,
		MoneyWon: resp.MoneyWon,
	}
	if resp.NextQuestion != nil {
		q := toQuestion(*resp.NextQuestion)
		out.NextQuestion = &q
	}

	c.JSON(http.StatusOK, out)
}

type (
	UseLifelineRequest struct {
		SessionID string          `json:"sessionId" binding:"required"`
		Lifeline  domain.Lifeline `json:"lifeline" binding:"required"`
	}

	UseLifelineResponse struct {
		Lifeline domain.Lifeline `json:"lifeline"`
		Result   any             `json:"result"`
	}
)

func (a *API) UseLifeline(c *gin.Context) {
	var req UseLifelineRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.ss.UseLifeline(c.Request.Context(), session.LifelineRequest{
		SessionID: req.SessionID,
		Player:    playerFrom(c),
		Lifeline:  req.Lifeline,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, UseLifelineResponse{
		Lifeline: resp.Lifeline,
		Result:   resp.Result,
	})
}

type (
	QuitGameRequest struct {
		SessionID string `json:"sessionId" binding:"required"`
	}

	EndGameResponse struct {
		Status   domain.Status `json:"status"`
		MoneyWon int64         `json:"moneyWon"`
	}
)

func (a *API) QuitGame(c *gin.Context) {
	var req QuitGameRequest
	if !a.bind(c, &req) {
		return
	}

	resp, err := a.ss.Quit(c.Request.Context(), session.QuitRequest{
		SessionID: req.SessionID,
		Player:    playerFrom(c),
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, EndGameResponse{Status: resp.Status, MoneyWon: resp.MoneyWon})
}

func (a *API) CompleteGame(c *gin.Context) {
	resp, err := a.ss.CompleteExternally(c.Request.Context(), session.CompleteRequest{
		SessionID: c.Param("id"),
		Player:    playerFrom(c),
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, EndGameResponse{Status: resp.Status, MoneyWon: resp.MoneyWon})
}

func (a *API) GetLeaderboard(c *gin.Context) {
	limit, ok := a.queryInt(c, "limit")
	if !ok {
		return
	}

	rs, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{Limit: limit})
	if err != nil {
		a.abort(c, errors.Upstream(err))
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(rs))
}

func (a *API) GetMyStats(c *gin.Context) {
	stats, err := a.sc.GetStats(c.Request.Context(), score.GetStatsRequest{PlayerID: playerFrom(c).ID})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

type (
	History struct {
		Entries []HistoryEntry `json:"entries"`
	}

	HistoryEntry struct {
		SessionID       string        `json:"sessionId"`
		GameID          string        `json:"gameId"`
		Date            time.Time     `json:"date"`
		Status          domain.Status `json:"status"`
		MoneyWon        int64         `json:"moneyWon"`
		LevelReached    int           `json:"levelReached"`
		DurationSeconds int64         `json:"durationSeconds"`
	}
)

func (a *API) GetMyHistory(c *gin.Context) {
	limit, ok := a.queryInt(c, "limit")
	if !ok {
		return
	}

	entries, err := a.ss.History(c.Request.Context(), session.HistoryRequest{
		Player: playerFrom(c),
		Limit:  limit,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	h := History{Entries: make([]HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		h.Entries = append(h.Entries, HistoryEntry{
			SessionID:       e.SessionID,
			GameID:          e.GameID,
			Date:            e.Date,
			Status:          e.Status,
			MoneyWon:        e.MoneyWon,
			LevelReached:    e.LevelReached,
			DurationSeconds: int64(e.Duration / time.Second),
		})
	}

	c.JSON(http.StatusOK, h)
}

// queryInt reads an optional non-negative integer query parameter; 0 when absent.
func (a *API) queryInt(c *gin.Context, key string) (int, bool) {
	v := c.Query(key)
	if v == "" {
		return 0, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		a.abort(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%s must be a non-negative integer", key)))
		return 0, false
	}
	return n, true
}
