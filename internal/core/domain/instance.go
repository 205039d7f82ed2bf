package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // hosts without a zoneinfo database still validate TZ
)

// =============================================================================
// Install Inputs
// =============================================================================

const (
	// DefaultTimezone is the bot's scheduling timezone when none is given.
	DefaultTimezone = "Asia/Tehran"

	// DefaultMaxBackupMB is the largest backup the bot sends as a document.
	DefaultMaxBackupMB = 45
)

// botTokenRegex matches Telegram bot tokens ("<bot id>:<secret>").
var botTokenRegex = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]+$`)

// InstallInputs holds the operator-supplied settings of an instance.
type InstallInputs struct {
	BotToken     string
	AdminChatIDs string // comma-separated chat IDs
	Timezone     string
	MaxBackupMB  int
}

// WithDefaults returns a copy with surrounding whitespace removed and
// defaults applied to empty optional fields.
func (in InstallInputs) WithDefaults() InstallInputs {
	out := InstallInputs{
		BotToken:     strings.TrimSpace(in.BotToken),
		AdminChatIDs: strings.TrimSpace(in.AdminChatIDs),
		Timezone:     strings.TrimSpace(in.Timezone),
		MaxBackupMB:  in.MaxBackupMB,
	}
	if out.Timezone == "" {
		out.Timezone = DefaultTimezone
	}
	if out.MaxBackupMB == 0 {
		out.MaxBackupMB = DefaultMaxBackupMB
	}
	return out
}

// Validate checks the inputs. Every failure wraps ErrInput and names the field.
// Validate does not apply defaults; call WithDefaults first.
func (in InstallInputs) Validate() error {
	if in.BotToken == "" {
		return fmt.Errorf("%w: bot token is required", ErrInput)
	}
	if !botTokenRegex.MatchString(in.BotToken) {
		return fmt.Errorf("%w: bot token must look like <id>:<secret>", ErrInput)
	}
	if _, err := ParseAdminChatIDs(in.AdminChatIDs); err != nil {
		return err
	}
	if in.Timezone == "" || strings.ContainsAny(in.Timezone, "\r\n") {
		return fmt.Errorf("%w: timezone is required", ErrInput)
	}
	if _, err := time.LoadLocation(in.Timezone); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInput, in.Timezone)
	}
	if in.MaxBackupMB <= 0 {
		return fmt.Errorf("%w: max backup size must be positive, got %d", ErrInput, in.MaxBackupMB)
	}
	return nil
}

// ParseAdminChatIDs parses a comma-separated list of Telegram chat IDs.
// Blank entries are skipped; negative IDs (group chats) are allowed.
//
// Example:
//
//	ParseAdminChatIDs("6391654120, 123456789") // returns [6391654120 123456789]
func ParseAdminChatIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: admin chat id %q is not a number", ErrInput, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// FormatAdminChatIDs renders chat IDs in the bot's ADMIN_CHAT_ID format.
func FormatAdminChatIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// =============================================================================
// Destructive Action Confirmation
// =============================================================================

// ConfirmsRemoval reports whether answer confirms removing the instance slug.
// The answer must repeat the slug or be an explicit "y"/"yes" (case-insensitive).
func ConfirmsRemoval(answer, slug string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" {
		return false
	}
	return a == slug || a == "y" || a == "yes"
}
