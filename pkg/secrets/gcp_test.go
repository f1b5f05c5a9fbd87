package secrets

import "testing"

func TestSecretVersionName(t *testing.T) {
	got := SecretVersionName("my-project", "spread-monitor-jwt-secret")
	want := "projects/my-project/secrets/spread-monitor-jwt-secret/versions/latest"
	if got != want {
		t.Errorf("SecretVersionName() = %q, want %q", got, want)
	}
}

func TestDefaultSecretNames(t *testing.T) {
	names := DefaultSecretNames()
	for field, v := range map[string]string{
		"TelegramBotToken": names.TelegramBotToken,
		"TelegramChatID":   names.TelegramChatID,
		"GeminiAPIKey":     names.GeminiAPIKey,
		"JWTSecret":        names.JWTSecret,
	} {
		if v == "" {
			t.Errorf("%s has no default", field)
		}
	}
}
