package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/Hjgyhfyh/site/internal/domain"
)

var utf8BOM = []byte("\ufeff")

// readJSONFile decodes path into v, tolerating a leading byte-order mark.
func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// readLegacyChats loads the pre-account chats file. ok is false when the
// file is missing or is not a JSON array.
func readLegacyChats(path string) (chats []domain.Chat, ok bool) {
	if path == "" {
		return nil, false
	}
	if err := readJSONFile(path, &chats); err != nil {
		return nil, false
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	return chats, true
}

func legacyExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
