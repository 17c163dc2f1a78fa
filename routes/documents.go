package routes

import (
	"errors"
	"net/http"
	"strconv"

	"readstash-backend/internal/config"
	"readstash-backend/internal/fetcher"
	"readstash-backend/internal/ingest"
	"readstash-backend/internal/linkgraph"
	"readstash-backend/internal/logger"
	"readstash-backend/internal/query"
	"readstash-backend/internal/store"
	"readstash-backend/models"
	"readstash-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

// Enqueuer is the slice of asynq.Client the routes need.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DocumentResponse is the envelope for single and multi document replies.
type DocumentResponse struct {
	Data       []models.Document `json:"data"`
	NextCursor *int              `json:"next_cursor,omitempty"`
}

type embedRequest struct {
	URL string `json:"url" binding:"required"`
}

type actionRequest struct {
	ID    string `json:"id" binding:"required"`
	State bool   `json:"state"`
}

type deleteDocumentRequest struct {
	ID string `json:"id" binding:"required"`
}

func SetupDocumentRoutes(
	router *gin.Engine,
	cfg *config.Config,
	st store.Store,
	engine *query.Engine,
	maintainer *linkgraph.Maintainer,
	registry *fetcher.Registry,
	jobs ingest.JobTracker,
	queueClient Enqueuer,
) {
	api := router.Group("/api")

	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, "pong")
	})

	api.POST("/ping", func(c *gin.Context) {
		var item map[string]interface{}
		if err := c.ShouldBindJSON(&item); err != nil {
			utils.RespondWithBadRequest(c, "Invalid JSON body", nil)
			return
		}
		c.JSON(http.StatusOK, item)
	})

	// POST /api/embed queues ingestion of a URL and returns immediately.
	// Resubmitting a URL whose task is still queued is a no-op.
	api.POST("/embed", func(c *gin.Context) {
		var req embedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "url is required", nil)
			return
		}

		category, err := registry.Category(req.URL)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnprocessableEntity,
				"unsupported_url", "No source can handle this URL", gin.H{"url": req.URL})
			return
		}

		documentID := models.DocumentIDFromURL(req.URL)
		if err := jobs.Track(c.Request.Context(), documentID, req.URL); err != nil {
			logger.Error("failed to track ingest job", "document_id", documentID, "error", err)
			utils.RespondWithInternalError(c, "Failed to queue document", nil)
			return
		}

		task, err := ingest.NewIngestTask(documentID, req.URL, cfg.IngestMaxRetry)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to queue document", nil)
			return
		}

		if _, err := queueClient.Enqueue(task); err != nil {
			if errors.Is(err, asynq.ErrTaskIDConflict) {
				c.JSON(http.StatusAccepted, gin.H{
					"document_id": documentID,
					"url":         req.URL,
					"category":    category,
					"status":      ingest.StatusPending,
					"queued":      false,
				})
				return
			}
			logger.Error("failed to enqueue ingest task", "document_id", documentID, "error", err)
			utils.RespondWithInternalError(c, "Failed to queue document", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"document_id": documentID,
			"url":         req.URL,
			"category":    category,
			"status":      ingest.StatusPending,
			"queued":      true,
		})
	})

	// GET /api/document?id=... returns one document; an unknown id yields
	// an empty data array rather than an error.
	api.GET("/document", func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			utils.RespondWithBadRequest(c, "id is required", nil)
			return
		}

		doc, err := st.Get(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, DocumentResponse{Data: []models.Document{}})
			return
		}
		if err != nil {
			logger.Error("document lookup failed", "document_id", id, "error", err)
			utils.RespondWithInternalError(c, "Failed to load document", nil)
			return
		}

		c.JSON(http.StatusOK, DocumentResponse{Data: []models.Document{*doc}})
	})

	api.GET("/documents", func(c *gin.Context) {
		req, err := parseDocumentsQuery(c)
		if err != nil {
			utils.RespondWithError(c, http.StatusUnprocessableEntity,
				"invalid_query", err.Error(), nil)
			return
		}

		page, err := engine.Search(c.Request.Context(), req)
		if errors.Is(err, query.ErrValidation) {
			utils.RespondWithError(c, http.StatusUnprocessableEntity,
				"invalid_query", err.Error(), nil)
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			utils.RespondWithError(c, http.StatusUnprocessableEntity,
				"invalid_query", "vector_search_document does not exist", nil)
			return
		}
		if err != nil {
			logger.Error("document search failed", "error", err)
			utils.RespondWithInternalError(c, "Search failed", nil)
			return
		}

		data := page.Documents
		if data == nil {
			data = []models.Document{}
		}
		c.JSON(http.StatusOK, DocumentResponse{Data: data, NextCursor: page.NextCursor})
	})

	// DELETE /api/document removes a document and repairs the edges of its
	// neighbors.
	api.DELETE("/document", func(c *gin.Context) {
		var req deleteDocumentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "id is required", nil)
			return
		}

		if err := maintainer.Delete(c.Request.Context(), req.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithError(c, http.StatusUnprocessableEntity,
					"not_found", "Document does not exist", gin.H{"id": req.ID})
				return
			}
			logger.Error("document delete failed", "document_id", req.ID, "error", err)
			utils.RespondWithInternalError(c, "Failed to delete document", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	api.POST("/read", setFlagHandler(st, store.FlagRead))
	api.POST("/bookmark", setFlagHandler(st, store.FlagBookmarked))
}

func setFlagHandler(st store.Store, flag store.Flag) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req actionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "id is required", nil)
			return
		}

		if err := st.SetFlag(c.Request.Context(), req.ID, flag, req.State); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.RespondWithError(c, http.StatusUnprocessableEntity,
					"not_found", "Document does not exist", gin.H{"id": req.ID})
				return
			}
			logger.Error("flag update failed", "document_id", req.ID, "flag", string(flag), "error", err)
			utils.RespondWithInternalError(c, "Failed to update document", nil)
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func parseDocumentsQuery(c *gin.Context) (query.Request, error) {
	req := query.Request{
		Categories:           c.QueryArray("category"),
		Author:               c.Query("author"),
		Title:                c.Query("title"),
		Text:                 c.Query("text"),
		VectorSearch:         c.Query("vector_search"),
		VectorSearchDocument: c.Query("vector_search_document"),
		Offset:               0,
		Count:                10,
	}

	var err error
	if req.Unread, err = boolQuery(c, "unread"); err != nil {
		return req, err
	}
	if req.Bookmarked, err = boolQuery(c, "bookmarked"); err != nil {
		return req, err
	}
	if req.Desc, err = boolQuery(c, "desc"); err != nil {
		return req, err
	}

	if raw := c.Query("offset"); raw != "" {
		if req.Offset, err = strconv.Atoi(raw); err != nil {
			return req, errors.New("offset must be an integer")
		}
	}
	if raw := c.Query("count"); raw != "" {
		if req.Count, err = strconv.Atoi(raw); err != nil {
			return req, errors.New("count must be an integer")
		}
	}

	return req, nil
}

func boolQuery(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be a boolean")
	}
	return value, nil
}
