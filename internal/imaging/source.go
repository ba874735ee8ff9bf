// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package imaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Source is a reference image as supplied by an API caller. Exactly one of
// URL or Data is set. In JSON it is either a bare string (an http(s) URL,
// a data URL or raw base64) or an object with "url" or "data"/"mimeType".
type Source struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"` // base64
	MimeType string `json:"mimeType,omitempty"`
}

// IsZero reports whether no image was supplied.
func (s Source) IsZero() bool {
	return s.URL == "" && s.Data == ""
}

// UnmarshalJSON accepts both the string and the object form.
func (s *Source) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		src, err := ParseSource(raw)
		if err != nil {
			return err
		}
		*s = src
		return nil
	}

	type plain Source
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("image source: %w", err)
	}
	if p.URL != "" && p.Data != "" {
		return fmt.Errorf("%w: both url and data set", ErrInvalidImage)
	}
	if p.Data != "" {
		// Object data may itself be a data URL.
		if strings.HasPrefix(p.Data, "data:") {
			src, err := parseDataURL(p.Data)
			if err != nil {
				return err
			}
			if p.MimeType == "" {
				p.MimeType = src.MimeType
			}
			p.Data = src.Data
		}
	}
	*s = Source(p)
	return nil
}

// ParseSource classifies a bare string reference.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Source{}, nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Source{URL: raw}, nil
	case strings.HasPrefix(raw, "data:"):
		return parseDataURL(raw)
	default:
		return Source{Data: raw}, nil
	}
}

// parseDataURL splits "data:<mime>;base64,<payload>".
func parseDataURL(raw string) (Source, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(raw, "data:"), ",")
	if !ok {
		return Source{}, fmt.Errorf("%w: malformed data URL", ErrInvalidImage)
	}
	mimeType, encoding, _ := strings.Cut(meta, ";")
	if encoding != "base64" {
		return Source{}, fmt.Errorf("%w: data URL must be base64 encoded", ErrInvalidImage)
	}
	return Source{Data: payload, MimeType: mimeType}, nil
}
