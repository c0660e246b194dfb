package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/custody-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	tests := []struct {
		project string
		name    string
		want    string
	}{
		{"proj", "wallet", "projects/proj/topics/wallet"},
		{"proj", " wallet ", "projects/proj/topics/wallet"},
		{"proj", "projects/other/topics/abuse", "projects/other/topics/abuse"},
		{"", "wallet", ""},
		{"proj", "", ""},
	}
	for _, tc := range tests {
		if got := topicResourceName(tc.project, tc.name); got != tc.want {
			t.Fatalf("topicResourceName(%q, %q) = %q, want %q", tc.project, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesDedupesAndTrims(t *testing.T) {
	names := topicNames(config.PubSubConfig{WalletTopic: " events ", AbuseTopic: "events"})
	if len(names) != 1 || names[0] != "events" {
		t.Fatalf("unexpected topics %v", names)
	}
	if len(topicNames(config.PubSubConfig{})) != 0 {
		t.Fatal("expected no topics")
	}
}

func TestClientOptionsPreferInlineCredentials(t *testing.T) {
	if got := len(clientOptions(config.GCPConfig{})); got != 0 {
		t.Fatalf("expected no options, got %d", got)
	}
	if got := len(clientOptions(config.GCPConfig{CredentialsJSON: "{}", ApplicationCredentials: "/tmp/key.json"})); got != 1 {
		t.Fatalf("expected one option, got %d", got)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("wallet") != nil {
		t.Fatal("expected nil publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
}
