package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalith-99/chatlink/models"
)

const testToken = "test-token"

// fakeCollaborator is the REST collaborator stood up as a gin router, the
// same way the real service routes its API.
func fakeCollaborator(t *testing.T) (*httptest.Server, *int64) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var markReadCalls int64

	r := gin.New()
	r.Use(func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.EqualFold(header, "Bearer "+testToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	})

	r.GET("/v1/conversations", func(c *gin.Context) {
		c.JSON(http.StatusOK, []models.Conversation{
			{Key: "c1", DisplayName: "Ada", Unread: 2},
			{Key: "c2", DisplayName: "Grace", Unread: 0},
		})
	})
	r.GET("/v1/unread", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"unread": 2})
	})
	r.GET("/v1/conversations/:key/messages", func(c *gin.Context) {
		assert.Equal(t, "100", c.Query("limit"))
		c.JSON(http.StatusOK, []models.Message{
			{ID: "m1", ConversationKey: c.Param("key"), Body: "hello", CreatedAt: time.Now()},
		})
	})
	r.POST("/v1/conversations/:key/messages", func(c *gin.Context) {
		var req struct {
			Body string `json:"body"`
		}
		require.NoError(t, c.ShouldBindJSON(&req))
		c.JSON(http.StatusCreated, models.Message{
			ID:              "srv-1",
			ConversationKey: c.Param("key"),
			Body:            req.Body,
			CreatedAt:       time.Now(),
		})
	})
	r.POST("/v1/conversations/:key/read", func(c *gin.Context) {
		atomic.AddInt64(&markReadCalls, 1)
		c.Status(http.StatusNoContent)
	})
	r.POST("/v1/read-all", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &markReadCalls
}

func newTestClient(t *testing.T, base, token string) *Client {
	t.Helper()
	return NewClient(base, token, 100, zap.NewNop())
}

func TestClientFetches(t *testing.T) {
	srv, _ := fakeCollaborator(t)
	c := newTestClient(t, srv.URL, testToken)
	ctx := context.Background()

	convs, err := c.Conversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].Key)
	assert.Equal(t, 2, convs[0].Unread)

	total, err := c.UnreadTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	history, err := c.History(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "c1", history[0].ConversationKey)
}

func TestClientMutations(t *testing.T) {
	srv, markReadCalls := fakeCollaborator(t)
	c := newTestClient(t, srv.URL, testToken)
	ctx := context.Background()

	msg, err := c.Send(ctx, "c1", "hi there")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, "hi there", msg.Body)

	require.NoError(t, c.MarkRead(ctx, "c1"))
	assert.EqualValues(t, 1, atomic.LoadInt64(markReadCalls))

	require.NoError(t, c.MarkAllRead(ctx))
}

func TestClientUnauthorized(t *testing.T) {
	srv, _ := fakeCollaborator(t)
	c := newTestClient(t, srv.URL, "wrong-token")

	_, err := c.Conversations(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	// A rotated credential makes the same client usable again.
	c.SetToken(testToken)
	_, err = c.Conversations(context.Background())
	assert.NoError(t, err)
}

func TestClientMalformedResponse(t *testing.T) {
	// Collaborator answers 200 with garbage: the client degrades to zero
	// values instead of surfacing an error into the UI layer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"this is": not json`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL, testToken)
	ctx := context.Background()

	convs, err := c.Conversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)

	total, err := c.UnreadTotal(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}
