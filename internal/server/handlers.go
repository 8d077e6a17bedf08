package server

import (
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"sift/internal/agent"
	"sift/internal/auth"
	"sift/internal/ingest"
)

const userKey = "sift_user"

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password"`
}

type queryRequest struct {
	Question  string  `json:"question" binding:"required"`
	Mode      string  `json:"mode"`
	TopK      int     `json:"top_k"`
	UseMMR    bool    `json:"use_mmr"`
	Diversity float64 `json:"diversity"`
}

type uploadRequest struct {
	Name string   `json:"name" binding:"required"`
	Text string   `json:"text" binding:"required"`
	Page int      `json:"page"`
	Tags []string `json:"tags"`
}

func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			// Websocket clients cannot set headers from the browser.
			token = c.Query("token")
		}
		user, ok := s.users.UserByToken(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing token"})
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) auth.User {
	return c.MustGet(userKey).(auth.User)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, ok := s.users.Authenticate(req.Username, req.Password)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
		return
	}
	// Demo token scheme: the token is the username.
	c.JSON(http.StatusOK, gin.H{"token": user.Username, "user": user})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) toQuery(req queryRequest, user auth.User) agent.Query {
	return agent.Query{
		Text:      req.Question,
		Mode:      agent.Mode(strings.ToLower(strings.TrimSpace(req.Mode))),
		TopK:      req.TopK,
		UseMMR:    req.UseMMR,
		Diversity: req.Diversity,
		Caller:    user.Capabilities,
	}
}

// handleQuery runs the engine to completion and returns the terminal event
// as a single JSON response.
func (s *Server) handleQuery(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var terminal agent.Event
	for ev := range s.engine.Process(c.Request.Context(), s.toQuery(req, currentUser(c))) {
		terminal = ev
	}

	switch data := terminal.Data.(type) {
	case agent.ResultData:
		c.JSON(http.StatusOK, data)
	case agent.ErrorData:
		c.JSON(errorStatus(data.Code), data)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no terminal event"})
	}
}

// handleQueryStream emits the full event stream as server-sent events, one
// event per message, ending with the terminal result or error.
func (s *Server) handleQueryStream(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	events := s.engine.Process(c.Request.Context(), s.toQuery(req, currentUser(c)))
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(string(ev.Type), ev)
		return true
	})
}

// handleQueryWS serves queries over a websocket: each text message is a
// queryRequest, each engine event goes back as one JSON message.
func (s *Server) handleQueryWS(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	user := currentUser(c)
	for {
		var req queryRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Question == "" {
			if err := conn.WriteJSON(gin.H{"error": "question is required"}); err != nil {
				return
			}
			continue
		}
		for ev := range s.engine.Process(c.Request.Context(), s.toQuery(req, user)) {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleListDocuments(c *gin.Context) {
	s.docsMu.RLock()
	names := make([]string, 0, len(s.docs))
	counts := make(map[string]int, len(s.docs))
	for name, ids := range s.docs {
		names = append(names, name)
		counts[name] = len(ids)
	}
	s.docsMu.RUnlock()
	sort.Strings(names)

	docs := make([]gin.H, 0, len(names))
	for _, name := range names {
		docs = append(docs, gin.H{"name": name, "chunks": counts[name]})
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) handleUploadDocument(c *gin.Context) {
	user := currentUser(c)
	if !user.Capabilities.CanUploadDocuments {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing capability: can_upload_documents"})
		return
	}

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ids, err := s.indexer.IndexDocument(c.Request.Context(), ingest.Source{
		Name: req.Name,
		Text: req.Text,
		Page: req.Page,
		Tags: req.Tags,
	})
	if err != nil {
		s.logger.Error("index %s: %v", req.Name, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	s.docsMu.Lock()
	s.docs[req.Name] = ids
	s.docsMu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"name": req.Name, "chunks": len(ids)})
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	user := currentUser(c)
	if !user.Capabilities.CanUploadDocuments {
		c.JSON(http.StatusForbidden, gin.H{"error": "missing capability: can_upload_documents"})
		return
	}

	name := c.Param("name")
	s.docsMu.Lock()
	ids, ok := s.docs[name]
	delete(s.docs, name)
	s.docsMu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown document"})
		return
	}

	if err := s.indexer.RemoveDocument(c.Request.Context(), ids); err != nil {
		s.logger.Error("remove %s: %v", name, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "removed": len(ids)})
}

func errorStatus(code string) int {
	switch code {
	case agent.ErrCodePermissionDenied:
		return http.StatusForbidden
	case agent.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case agent.ErrCodeGenerationFailed:
		return http.StatusBadGateway
	case agent.ErrCodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
