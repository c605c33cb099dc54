package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dom/genstudio/internal/api/handlers"
	"github.com/dom/genstudio/internal/service"
	"github.com/dom/genstudio/internal/testutil"
	"github.com/dom/genstudio/internal/upload"
	"github.com/dom/genstudio/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nnot really a png")

func TestGenerationHandler_Create(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	host := strings.TrimPrefix(ts.BaseURL(), "http://")

	tests := []struct {
		name           string
		fields         map[string]string
		image          *testutil.ImagePart
		token          string
		expectedStatus int
		checkResponse  func(*testing.T, *http.Response)
	}{
		{
			name:           "no image yields placeholder",
			fields:         map[string]string{"prompt": "sunset", "style": "realistic"},
			token:          token,
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *http.Response) {
				var result handlers.GenerationResponse
				testutil.AssertJSONResponse(t, resp, &result)
				assert.NotEmpty(t, result.ID)
				assert.Equal(t, "sunset", result.Prompt)
				assert.Equal(t, "realistic", result.Style)
				assert.Equal(t, "succeeded", result.Status)
				assert.True(t, strings.HasPrefix(result.ImageURL, "https://"+host+"/placeholder/"), result.ImageURL)
				assert.True(t, strings.HasSuffix(result.ImageURL, ".png"))
				assert.False(t, result.CreatedAt.IsZero())
			},
		},
		{
			name:           "png image is stored and linked",
			fields:         map[string]string{"prompt": "cat", "style": "anime"},
			image:          &testutil.ImagePart{Filename: "my cat.png", ContentType: "image/png", Data: pngBytes},
			token:          token,
			expectedStatus: http.StatusCreated,
			checkResponse: func(t *testing.T, resp *http.Response) {
				var result handlers.GenerationResponse
				testutil.AssertJSONResponse(t, resp, &result)
				assert.True(t, strings.HasPrefix(result.ImageURL, ts.BaseURL()+"/uploads/"), result.ImageURL)
				assert.True(t, strings.HasSuffix(result.ImageURL, "-my-cat.png"), result.ImageURL)

				img, err := http.Get(result.ImageURL)
				require.NoError(t, err)
				defer img.Body.Close()
				assert.Equal(t, http.StatusOK, img.StatusCode)
				assert.Equal(t, "image/png", img.Header.Get("Content-Type"))
				data, err := io.ReadAll(img.Body)
				require.NoError(t, err)
				assert.Equal(t, pngBytes, data)
			},
		},
		{
			name:           "empty prompt",
			fields:         map[string]string{"prompt": "", "style": "realistic"},
			token:          token,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp *http.Response) {
				testutil.AssertErrorResponse(t, resp, http.StatusBadRequest, "Prompt is required")
			},
		},
		{
			name:           "missing style",
			fields:         map[string]string{"prompt": "sunset"},
			token:          token,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "gif rejected",
			fields:         map[string]string{"prompt": "sunset", "style": "realistic"},
			image:          &testutil.ImagePart{Filename: "anim.gif", ContentType: "image/gif", Data: []byte("GIF89a")},
			token:          token,
			expectedStatus: http.StatusBadRequest,
			checkResponse: func(t *testing.T, resp *http.Response) {
				testutil.AssertErrorResponse(t, resp, http.StatusBadRequest, "Only JPEG and PNG images are allowed")
			},
		},
		{
			name:           "png named txt is accepted by declared type",
			fields:         map[string]string{"prompt": "sunset", "style": "realistic"},
			image:          &testutil.ImagePart{Filename: "notes.txt", ContentType: "image/png", Data: pngBytes},
			token:          token,
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "missing token",
			fields:         map[string]string{"prompt": "sunset", "style": "realistic"},
			expectedStatus: http.StatusUnauthorized,
			checkResponse: func(t *testing.T, resp *http.Response) {
				testutil.AssertErrorResponse(t, resp, http.StatusUnauthorized, "Unauthorized")
			},
		},
		{
			name:           "garbage token",
			fields:         map[string]string{"prompt": "sunset", "style": "realistic"},
			token:          "garbage",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateMultipartRequest(t, ts.APIURL("/generations"), tt.fields, tt.image, tt.token)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.checkResponse != nil {
				tt.checkResponse(t, resp)
			}
		})
	}
}

func TestGenerationHandler_CreateJSONBody(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	req := testutil.CreateAuthenticatedRequest(t, "POST", ts.APIURL("/generations"),
		map[string]string{"prompt": "sunset", "style": "realistic"}, token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result handlers.GenerationResponse
	testutil.AssertJSONResponse(t, resp, &result)
	assert.Contains(t, result.ImageURL, "/placeholder/")
	assert.Equal(t, "succeeded", result.Status)
}

func TestGenerationHandler_CreateTooLarge(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	big := bytes.Repeat([]byte{0x42}, int(upload.MaxImageBytes)+1)
	req := testutil.CreateMultipartRequest(t, ts.APIURL("/generations"),
		map[string]string{"prompt": "sunset", "style": "realistic"},
		&testutil.ImagePart{Filename: "big.png", ContentType: "image/png", Data: big}, token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	testutil.AssertErrorResponse(t, resp, http.StatusRequestEntityTooLarge, "Image exceeds the 10MB limit")
}

func TestGenerationHandler_CreateOverloaded(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite(), testutil.WithSimulator(service.FixedSimulator{Overload: true}))
	user, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	for i := 0; i < 5; i++ {
		req := testutil.CreateMultipartRequest(t, ts.APIURL("/generations"),
			map[string]string{"prompt": "sunset", "style": "realistic"}, nil, token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		var result map[string]string
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		testutil.AssertJSONResponse(t, resp, &result)
		assert.Equal(t, "Model overloaded", result["message"])
		resp.Body.Close()
	}

	items, err := ts.Services.Generation.GetGenerations(t.Context(), user.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, items, "overloaded attempts are never persisted")
}

func TestGenerationHandler_CreateOverloadedDiscardsUpload(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite(), testutil.WithSimulator(service.FixedSimulator{Overload: true}))
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	req := testutil.CreateMultipartRequest(t, ts.APIURL("/generations"),
		map[string]string{"prompt": "sunset", "style": "realistic"},
		&testutil.ImagePart{Filename: "cat.png", ContentType: "image/png", Data: pngBytes}, token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	entries, err := os.ReadDir(ts.Store.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "upload of a failed generation is removed")
}

func TestGenerationHandler_List(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())
	alice, aliceToken := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	bob, bobToken := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		testutil.NewGenerationBuilder().
			WithOwner(alice).
			WithPrompt(fmt.Sprintf("alice %d", i)).
			WithCreatedAt(base.Add(time.Duration(i) * time.Minute)).
			Build(t, ts.DB.DB)
	}
	testutil.NewGenerationBuilder().WithOwner(bob).WithPrompt("bob only").Build(t, ts.DB.DB)

	tests := []struct {
		name      string
		query     string
		token     string
		wantCount int
		wantFirst string
	}{
		{name: "default limit", query: "", token: aliceToken, wantCount: 5, wantFirst: "alice 59"},
		{name: "explicit limit", query: "?limit=3", token: aliceToken, wantCount: 3, wantFirst: "alice 59"},
		{name: "capped at fifty", query: "?limit=1000", token: aliceToken, wantCount: 50, wantFirst: "alice 59"},
		{name: "garbage limit", query: "?limit=abc", token: aliceToken, wantCount: 5, wantFirst: "alice 59"},
		{name: "zero limit", query: "?limit=0", token: aliceToken, wantCount: 5, wantFirst: "alice 59"},
		{name: "isolated per owner", query: "?limit=50", token: bobToken, wantCount: 1, wantFirst: "bob only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateAuthenticatedRequest(t, "GET", ts.APIURL("/generations"+tt.query), nil, tt.token)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			var items []handlers.GenerationResponse
			testutil.AssertJSONResponse(t, resp, &items)

			require.Len(t, items, tt.wantCount)
			assert.Equal(t, tt.wantFirst, items[0].Prompt)

			stamps := make([]int64, 0, len(items))
			for _, item := range items {
				stamps = append(stamps, item.CreatedAt.UnixNano())
				if tt.token == bobToken {
					assert.NotContains(t, item.Prompt, "alice")
				}
			}
			testutil.AssertNewestFirst(t, stamps)
		})
	}

	t.Run("requires auth", func(t *testing.T) {
		resp, err := http.Get(ts.APIURL("/generations"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestGenerationHandler_PushesToOwnerSocket(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())
	alice, aliceToken := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)
	_, bobToken := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	aliceWS := testutil.NewWSClient(t, ts.WebSocketURL(aliceToken))
	bobWS := testutil.NewWSClient(t, ts.WebSocketURL(bobToken))

	require.Eventually(t, func() bool { return ts.Hub.ConnectionCount(alice.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	req := testutil.CreateMultipartRequest(t, ts.APIURL("/generations"),
		map[string]string{"prompt": "sunset", "style": "realistic"}, nil, aliceToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := aliceWS.ExpectGenerationCreated(2 * time.Second)
	assert.Equal(t, "sunset", created.Generation.Prompt)
	aliceWS.ExpectMessage(websocket.MessageTypeHistoryInvalidated, 2*time.Second)

	bobWS.ExpectNoMessage(200 * time.Millisecond)
}

func TestWebSocketHandler_RejectsBadToken(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())

	resp, err := http.Get(ts.APIURL("/ws?token=nope"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketHandler_RepliesErrorToClientFrames(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())
	_, token := testutil.NewUserBuilder().BuildAndAuthenticate(t, ts)

	ws := testutil.NewWSClient(t, ts.WebSocketURL(token))
	ws.SendText(`{"type":"PING"}`)

	msg := ws.ExpectMessage(websocket.MessageTypeError, 2*time.Second)
	var payload websocket.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, websocket.ErrorCodeReadOnly, payload.Code)
	assert.NotEmpty(t, payload.Message)

	// The connection stays open for pushes.
	ws.ExpectNoMessage(200 * time.Millisecond)
}

func TestUploadHandler_NotFound(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())

	for _, name := range []string{"missing.png", ".hidden"} {
		resp, err := http.Get(ts.BaseURL() + "/uploads/" + name)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, name)
	}
}

func TestRouter_HealthAndCORS(t *testing.T) {
	ts := testutil.NewTestServer(t, testutil.WithSQLite())

	resp, err := http.Get(ts.BaseURL() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))

	req, _ := http.NewRequest(http.MethodOptions, ts.APIURL("/generations"), nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
