package notify

import (
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"estate-scout/models"
	"estate-scout/utils"
)

// Notifier receives the outcome of a finished run together with the
// critical-tier records found during it.
type Notifier interface {
	Notify(result *models.RunResult, critical []models.PropertyRecord) error
}

// LogNotifier writes the run outcome to the application log. It is the
// fallback when no mail transport is configured.
type LogNotifier struct {
	Logger *utils.Logger
}

func (n *LogNotifier) Notify(result *models.RunResult, critical []models.PropertyRecord) error {
	n.Logger.Info("run %s finished: state=%s created=%d updated=%d price_changed=%d unchanged=%d missing=%d duplicates=%d",
		result.RunID, result.State, result.Created, result.Updated,
		result.PriceChanged, result.Unchanged, result.Missing, result.Duplicates)
	for _, rec := range critical {
		n.Logger.Info("CRITICAL match %.1f%% %s (%s) %s", rec.MatchScore, rec.Title, rec.Location, rec.URL)
	}
	return nil
}

// SMTPNotifier sends a completion mail for every run, with an alert-style
// subject when critical matches or source failures are present.
type SMTPNotifier struct {
	Host      string
	Port      int
	User      string
	Password  string
	Recipient string
	Logger    *utils.Logger
}

func (n *SMTPNotifier) Notify(result *models.RunResult, critical []models.PropertyRecord) error {
	if n.User == "" || n.Recipient == "" {
		n.Logger.Warn("SMTP not configured, skipping alert")
		return nil
	}

	subject := "Scrape Complete"
	if len(critical) > 0 {
		subject = fmt.Sprintf("CRITICAL Matches (%d)! Scrape Complete", len(critical))
	} else if result.State == models.RunPartiallyFailed {
		subject = "Scrape Partially Failed"
	}

	body := buildBody(result, critical)
	msg := strings.Join([]string{
		"From: " + n.User,
		"To: " + n.Recipient,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
		body,
	}, "\r\n")

	addr := fmt.Sprintf("%s:%d", n.Host, n.Port)
	auth := smtp.PlainAuth("", n.User, n.Password, n.Host)
	if err := smtp.SendMail(addr, auth, n.User, []string{n.Recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	n.Logger.Info("alert sent to %s", n.Recipient)
	return nil
}

func buildBody(result *models.RunResult, critical []models.PropertyRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", result.RunID)
	fmt.Fprintf(&b, "State: %s\n", result.State)
	fmt.Fprintf(&b, "Duration: %s\n\n", result.Duration().Round(1e9))

	b.WriteString("RESULTS:\n--------\n")
	fmt.Fprintf(&b, "Created: %d\n", result.Created)
	fmt.Fprintf(&b, "Updated: %d\n", result.Updated)
	fmt.Fprintf(&b, "Price changed: %d\n", result.PriceChanged)
	fmt.Fprintf(&b, "Unchanged: %d\n", result.Unchanged)
	fmt.Fprintf(&b, "Missing: %d\n", result.Missing)

	sources := make([]string, 0, len(result.Sources))
	for name := range result.Sources {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	b.WriteString("\nSOURCES:\n--------\n")
	for _, name := range sources {
		s := result.Sources[name]
		status := "ok"
		if s.Unavailable {
			status = "unavailable: " + s.FailureCause
		}
		fmt.Fprintf(&b, "%s: fetched=%d normalized=%d failed=%d (%s)\n",
			name, s.Fetched, s.Normalized, s.Failed, status)
	}

	if len(critical) > 0 {
		b.WriteString("\nCRITICAL MATCHES:\n" + strings.Repeat("=", 40) + "\n")
		top := critical
		if len(top) > 3 {
			top = top[:3]
		}
		for _, rec := range top {
			fmt.Fprintf(&b, "\n%s\nMatch: %.1f%%\nPrice: €%.0f\nLocation: %s\nURL: %s\n---\n",
				rec.Title, rec.MatchScore, rec.Price, rec.Location, rec.URL)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintf(&b, "\n%d errors - check logs\n", len(result.Errors))
	}
	return b.String()
}
