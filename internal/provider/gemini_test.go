package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pixforge/pixforge/internal/config"
)

func newTestClient(baseURL string) *Client {
	return NewClient(&config.ProviderConfig{
		BaseURL: baseURL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
}

func TestGenerateContent_CollectsImagesAndText(t *testing.T) {
	imageBytes := []byte{0x89, 0x50, 0x4e, 0x47}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "test-key" {
			t.Errorf("Expected API key header, got %q", got)
		}

		var req struct {
			Contents []struct {
				Parts []Part `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if len(req.Contents) != 1 || len(req.Contents[0].Parts) != 1 {
			t.Errorf("Expected one content with one part, got %+v", req.Contents)
		}

		resp := map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"parts": []map[string]any{
						{"text": "here is "},
						{"inlineData": map[string]string{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(imageBytes),
						}},
						{"text": "your image"},
					},
				},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.GenerateContent(context.Background(), "test-key", []Part{TextPart("a cat")})
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}

	if len(resp.Images) != 1 {
		t.Fatalf("Expected 1 image, got %d", len(resp.Images))
	}
	if string(resp.Images[0].Data) != string(imageBytes) {
		t.Error("Expected decoded image bytes")
	}
	if resp.Images[0].MIMEType != "image/png" {
		t.Errorf("Expected image/png, got %q", resp.Images[0].MIMEType)
	}
	if resp.Text != "here is your image" {
		t.Errorf("Expected concatenated text, got %q", resp.Text)
	}
}

func TestGenerateContent_EmptyCandidatesIsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.GenerateContent(context.Background(), "k", []Part{TextPart("x")})
	if err != nil {
		t.Fatalf("GenerateContent failed: %v", err)
	}
	if len(resp.Images) != 0 || resp.Text != "" {
		t.Errorf("Expected an empty response, got %+v", resp)
	}
}

func TestGenerateContent_InvalidKeyClassification(t *testing.T) {
	cases := []struct {
		name        string
		status      int
		body        string
		wantInvalid bool
	}{
		{"400 API_KEY_INVALID", 400, `{"error":{"status":"INVALID_ARGUMENT","details":[{"reason":"API_KEY_INVALID"}]}}`, true},
		{"400 key not valid", 400, `{"error":{"message":"API key not valid. Please pass a valid API key."}}`, true},
		{"403 expired", 403, `{"error":{"message":"API key expired. Please renew the API key."}}`, true},
		{"401 key not valid", 401, `{"error":{"message":"API key not valid"}}`, true},
		{"400 other", 400, `{"error":{"message":"Invalid request payload"}}`, false},
		{"500 with key text", 500, `API key not valid`, false},
		{"429 quota", 429, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := newTestClient(srv.URL)
			_, err := client.GenerateContent(context.Background(), "k", []Part{TextPart("x")})
			if err == nil {
				t.Fatal("Expected an error")
			}
			if got := IsInvalidKey(err); got != tc.wantInvalid {
				t.Errorf("IsInvalidKey = %v, want %v (err: %v)", got, tc.wantInvalid, err)
			}
		})
	}
}

func TestGenerateContent_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.GenerateContent(ctx, "k", []Part{TextPart("x")})
	if err != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestImagePart_EncodesBase64(t *testing.T) {
	part := ImagePart([]byte("raw-bytes"), "image/jpeg")
	if part.InlineData == nil {
		t.Fatal("Expected inline data")
	}
	if part.InlineData.MIMEType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %q", part.InlineData.MIMEType)
	}
	decoded, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
	if err != nil || string(decoded) != "raw-bytes" {
		t.Errorf("Expected base64 of the raw bytes, got %q", part.InlineData.Data)
	}
}

func TestParseSegmentMasks(t *testing.T) {
	payload := `[{"label":"dog","box_2d":[10,20,100,80],"mask":"aWJt"}]`

	cases := []struct {
		name string
		text string
	}{
		{"bare JSON", payload},
		{"json fence", "```json\n" + payload + "\n```"},
		{"plain fence", "```\n" + payload + "\n```"},
		{"surrounding whitespace", "\n  " + payload + "  \n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			masks, err := ParseSegmentMasks(tc.text)
			if err != nil {
				t.Fatalf("ParseSegmentMasks failed: %v", err)
			}
			if len(masks) != 1 {
				t.Fatalf("Expected 1 mask, got %d", len(masks))
			}
			m := masks[0]
			if m.Label != "dog" {
				t.Errorf("Expected label dog, got %q", m.Label)
			}
			if m.Box != [4]int{10, 20, 100, 80} {
				t.Errorf("Unexpected box %v", m.Box)
			}
			if m.Mask != "aWJt" {
				t.Errorf("Unexpected mask %q", m.Mask)
			}
		})
	}
}

func TestParseSegmentMasks_MalformedFails(t *testing.T) {
	for _, text := range []string{"", "not json", `{"label":"x"}`, "```json\ngarbage\n```"} {
		if _, err := ParseSegmentMasks(text); err == nil {
			t.Errorf("Expected error for %q", text)
		}
	}
}
