package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	videoIDRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)
	channelIDRegex  = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)
	handleRegex     = regexp.MustCompile(`^@[a-zA-Z0-9._-]{3,30}$`)
	playlistIDRegex = regexp.MustCompile(`^(UU|PL|UL|FL|LL|OL)[a-zA-Z0-9_-]{10,}$`)
)

// ErrInvalidChannelRef is returned for a reference that is neither a channel id nor a handle.
var ErrInvalidChannelRef = errors.New("invalid channel reference")

// ErrInvalidVideoID is returned for a malformed video id.
var ErrInvalidVideoID = errors.New("invalid video ID")

// Validator checks operator-supplied identifiers. A disabled Validator accepts everything.
type Validator struct {
	validationEnabled bool
}

func New(enabled bool) *Validator {
	return &Validator{validationEnabled: enabled}
}

// NormalizeChannelRef trims whitespace and accepts handles with or without the leading @.
// Values with a channel id prefix are returned unchanged.
func NormalizeChannelRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "@") || strings.HasPrefix(ref, "UC") {
		return ref
	}
	if handleRegex.MatchString("@" + ref) {
		return "@" + ref
	}
	return ref
}

// ValidateChannelRef accepts a channel id (UC + 22 chars) or an @handle.
func (v *Validator) ValidateChannelRef(ref string) error {
	if !v.validationEnabled {
		return nil
	}
	if channelIDRegex.MatchString(ref) || handleRegex.MatchString(ref) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidChannelRef, ref)
}

// ValidateVideoIDs returns an error naming the first malformed id.
func (v *Validator) ValidateVideoIDs(ids []string) error {
	if !v.validationEnabled {
		return nil
	}
	for _, id := range ids {
		if !videoIDRegex.MatchString(id) {
			return fmt.Errorf("%w: %q", ErrInvalidVideoID, id)
		}
	}
	return nil
}

func (v *Validator) IsValidVideoID(videoID string) bool {
	return videoIDRegex.MatchString(videoID)
}

func (v *Validator) IsValidChannelID(channelID string) bool {
	return channelIDRegex.MatchString(channelID)
}

func (v *Validator) IsValidHandle(handle string) bool {
	return handleRegex.MatchString(handle)
}

func (v *Validator) IsValidPlaylistID(playlistID string) bool {
	return playlistIDRegex.MatchString(playlistID)
}
