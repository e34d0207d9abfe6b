package publish

import (
	"fmt"
	"net/url"
	"strings"
)

var knownPlatforms = map[Platform]struct{}{
	Instagram: {},
	Facebook:  {},
	TikTok:    {},
}

var knownContentTypes = map[ContentType]struct{}{
	Post:     {},
	Carousel: {},
	Story:    {},
}

// Normalize trims and lowercases the payload and enforces the media rules of
// its content type. It never touches the network.
func Normalize(p Payload) (Payload, error) {
	out := Payload{
		Platform:     Platform(strings.ToLower(strings.TrimSpace(string(p.Platform)))),
		ContentType:  ContentType(strings.ToLower(strings.TrimSpace(string(p.ContentType)))),
		CaptionFinal: strings.TrimSpace(p.CaptionFinal),
		AudioURL:     strings.TrimSpace(p.AudioURL),
	}
	if out.ContentType == "" {
		out.ContentType = Post
	}

	if _, ok := knownPlatforms[out.Platform]; !ok {
		return out, ValidationError{Reason: fmt.Sprintf("unsupported platform %q", p.Platform)}
	}
	provider := string(out.Platform)
	if _, ok := knownContentTypes[out.ContentType]; !ok {
		return out, ValidationError{Provider: provider, Reason: fmt.Sprintf("unsupported content type %q", p.ContentType)}
	}

	out.MediaURLs = make([]string, 0, len(p.MediaURLs))
	for _, raw := range p.MediaURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := checkURL(raw); err != nil {
			return out, ValidationError{Provider: provider, Reason: err.Error()}
		}
		out.MediaURLs = append(out.MediaURLs, raw)
	}
	if out.AudioURL != "" {
		if err := checkURL(out.AudioURL); err != nil {
			return out, ValidationError{Provider: provider, Reason: "audio: " + err.Error()}
		}
	}

	n := len(out.MediaURLs)
	switch {
	case out.Platform == TikTok && n == 0:
		return out, ValidationError{Provider: provider, Reason: "missing video"}
	case n == 0:
		return out, ValidationError{Provider: provider, Reason: fmt.Sprintf("%s requires at least one media url", out.ContentType)}
	case out.ContentType == Carousel && n < 2:
		return out, ValidationError{Provider: provider, Reason: "carousel requires at least two media urls"}
	case out.ContentType == Story && n != 1:
		return out, ValidationError{Provider: provider, Reason: fmt.Sprintf("story takes exactly one media url, got %d", n)}
	case out.AudioURL != "" && out.ContentType != Story:
		return out, ValidationError{Provider: provider, Reason: "audio is only supported for stories"}
	}

	return out, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid media url %q: %v", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("media url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("media url %q has no host", raw)
	}
	return nil
}
