package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"
	"time"

	"github.com/dom/genstudio/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserBuilder creates test users with a builder pattern
type UserBuilder struct {
	email    string
	password string
}

// NewUserBuilder creates a new UserBuilder with default values
func NewUserBuilder() *UserBuilder {
	return &UserBuilder{
		email:    fmt.Sprintf("user_%s@example.com", uuid.New().String()[:8]),
		password: "testpassword123",
	}
}

// WithEmail sets the email
func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.email = email
	return b
}

// WithPassword sets the password
func (b *UserBuilder) WithPassword(password string) *UserBuilder {
	b.password = password
	return b
}

// Build creates the user in the database and returns the user with the raw password
func (b *UserBuilder) Build(t *testing.T, db *gorm.DB) (*domain.User, string) {
	t.Helper()

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(b.password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        b.email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create user: %v", err)
	}

	return user, b.password
}

// AuthResponse matches the API auth response
type AuthResponse struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// BuildAndAuthenticate signs the user up via the API and returns the user and access token
func (b *UserBuilder) BuildAndAuthenticate(t *testing.T, ts *TestServer) (*domain.User, string) {
	t.Helper()

	reqBody := map[string]string{
		"email":    b.email,
		"password": b.password,
	}
	body, _ := json.Marshal(reqBody)

	resp, err := http.Post(ts.APIURL("/auth/signup"), "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("failed to sign up user: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status code: %d", resp.StatusCode)
	}

	var authResp AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	userID, _ := uuid.Parse(authResp.User.ID)
	user := &domain.User{
		ID:    userID,
		Email: authResp.User.Email,
	}

	return user, authResp.AccessToken
}

// GenerationBuilder creates test generations with a builder pattern
type GenerationBuilder struct {
	owner     *domain.User
	prompt    string
	style     string
	imageURL  string
	createdAt time.Time
}

// NewGenerationBuilder creates a new GenerationBuilder with default values
func NewGenerationBuilder() *GenerationBuilder {
	return &GenerationBuilder{
		prompt:    "a lighthouse at dusk",
		style:     "watercolor",
		imageURL:  "https://localhost/placeholder/1.png",
		createdAt: time.Now().UTC(),
	}
}

// WithOwner sets the owning user
func (b *GenerationBuilder) WithOwner(user *domain.User) *GenerationBuilder {
	b.owner = user
	return b
}

// WithPrompt sets the prompt
func (b *GenerationBuilder) WithPrompt(prompt string) *GenerationBuilder {
	b.prompt = prompt
	return b
}

// WithCreatedAt sets the creation time
func (b *GenerationBuilder) WithCreatedAt(at time.Time) *GenerationBuilder {
	b.createdAt = at
	return b
}

// Build inserts the generation directly, bypassing the repository clock.
func (b *GenerationBuilder) Build(t *testing.T, db *gorm.DB) *domain.Generation {
	t.Helper()

	if b.owner == nil {
		t.Fatal("generation builder requires an owner")
	}

	generation := &domain.Generation{
		ID:        uuid.New(),
		OwnerID:   b.owner.ID,
		Prompt:    b.prompt,
		Style:     b.style,
		ImageURL:  b.imageURL,
		Status:    domain.GenerationStatusSucceeded,
		CreatedAt: b.createdAt,
	}

	if err := db.Create(generation).Error; err != nil {
		t.Fatalf("failed to create generation: %v", err)
	}

	return generation
}

// CreateAuthenticatedRequest creates an HTTP request with a JSON body and bearer token
func CreateAuthenticatedRequest(t *testing.T, method, url string, body interface{}, token string) *http.Request {
	t.Helper()

	var bodyReader *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	} else {
		bodyReader = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

// ImagePart describes a file part for CreateMultipartRequest.
type ImagePart struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateMultipartRequest builds a multipart/form-data request with the given
// fields and an optional "image" part.
func CreateMultipartRequest(t *testing.T, url string, fields map[string]string, image *ImagePart, token string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if image != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, image.Filename))
		header.Set("Content-Type", image.ContentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create image part: %v", err)
		}
		if _, err := part.Write(image.Data); err != nil {
			t.Fatalf("failed to write image part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
