package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dom/genstudio/internal/domain"
)

// APIClient handles HTTP communication with the backend
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a new API client. A zero timeout leaves requests bound
// only by their context.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/") + "/api",
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Response types matching backend

type AuthResponse struct {
	User        domain.UserIdentity `json:"user"`
	AccessToken string              `json:"accessToken"`
}

type Generation struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"imageUrl"`
	Prompt    string    `json:"prompt"`
	Style     string    `json:"style"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
}

// Image is a staged upload. Data is read once and reused for every attempt.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

type GenerationForm struct {
	Prompt string
	Style  string
	Image  *Image
}

// Signup creates a new account
func (c *APIClient) Signup(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "client.Signup", "/auth/signup", http.StatusCreated, email, password)
}

// Login exchanges credentials for an access token
func (c *APIClient) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "client.Login", "/auth/login", http.StatusOK, email, password)
}

func (c *APIClient) authenticate(ctx context.Context, op, path string, wantStatus int, email, password string) (*AuthResponse, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}

	resp, err := c.post(ctx, path, body, "")
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return nil, errorFromResponse(op, resp)
	}

	var result AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to decode response", err)
	}
	return &result, nil
}

// Me fetches the identity behind token
func (c *APIClient) Me(ctx context.Context, token string) (*domain.UserIdentity, error) {
	const op = "client.Me"

	resp, err := c.get(ctx, "/auth/me", token)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(op, resp)
	}

	var user domain.UserIdentity
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to decode response", err)
	}
	return &user, nil
}

// CreateGeneration submits one generation attempt as a multipart form.
func (c *APIClient) CreateGeneration(ctx context.Context, token string, form GenerationForm) (*Generation, error) {
	const op = "client.CreateGeneration"

	body, contentType, err := encodeGenerationForm(form)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to encode form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", body)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, errorFromResponse(op, resp)
	}

	var gen Generation
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to decode response", err)
	}
	return &gen, nil
}

// ListGenerations fetches the caller's newest generations. A non-positive
// limit leaves the choice to the server.
func (c *APIClient) ListGenerations(ctx context.Context, token string, limit int) ([]Generation, error) {
	const op = "client.ListGenerations"

	path := "/generations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.get(ctx, path, token)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(op, resp)
	}

	var gens []Generation
	if err := json.NewDecoder(resp.Body).Decode(&gens); err != nil {
		return nil, domain.WrapError(domain.KindInternal, op, "failed to decode response", err)
	}
	return gens, nil
}

// WebSocketURL returns the push channel address for token.
func (c *APIClient) WebSocketURL(token string) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func encodeGenerationForm(form GenerationForm) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("prompt", form.Prompt); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("style", form.Style); err != nil {
		return nil, "", err
	}

	if form.Image != nil {
		// CreateFormFile would declare application/octet-stream; the server
		// decides on the part's declared type.
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(form.Image.Filename)))
		h.Set("Content-Type", form.Image.ContentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(form.Image.Data); err != nil {
			return nil, "", err
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func (c *APIClient) get(ctx context.Context, path, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

func (c *APIClient) post(ctx context.Context, path string, body interface{}, token string) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// transportError classifies a failed round trip. A cancelled context is a
// distinct outcome from a network fault.
func transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return domain.WrapError(domain.KindCancelled, op, domain.MsgGenerationCancelled, err)
	}
	return domain.WrapError(domain.KindInternal, op, "request failed", err)
}

// errorFromResponse maps a non-success response back to an error kind. The
// status code decides the kind; the body only supplies the message.
func errorFromResponse(op string, resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(bodyBytes, &payload)

	message := payload.Error
	if message == "" {
		message = payload.Message
	}

	var kind domain.ErrorKind
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		kind = domain.KindValidation
	case http.StatusUnauthorized:
		kind = domain.KindAuth
	case http.StatusConflict:
		kind = domain.KindConflict
	case http.StatusNotFound:
		kind = domain.KindNotFound
	case http.StatusServiceUnavailable:
		kind = domain.KindOverload
		if message == "" {
			message = domain.MsgModelOverloaded
		}
	default:
		kind = domain.KindInternal
	}

	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return domain.WrapError(kind, op, message, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes))))
}
