package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/crewshift/pinlock/internal/models"
)

// Notifier alerts restaurant managers about lockouts worth human attention.
// Implementations must not block the authentication decision path; the
// lockout service invokes them from a background goroutine.
type Notifier interface {
	NotifyLockout(ctx context.Context, status *models.LockoutStatus) error
}

// NoopNotifier discards notifications (development and tests)
type NoopNotifier struct{}

func (NoopNotifier) NotifyLockout(context.Context, *models.LockoutStatus) error {
	return nil
}

// SESNotifier sends lockout notification emails via AWS SES
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier creates a notifier using default AWS credentials
func NewSESNotifier(region, fromAddress string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}, nil
}

// NotifyLockout emails the manager list about a triggered lockout
func (n *SESNotifier) NotifyLockout(ctx context.Context, status *models.LockoutStatus) error {
	if len(n.recipients) == 0 {
		return nil
	}

	expires := "unknown"
	if status.LockoutExpiresAt != nil {
		expires = status.LockoutExpiresAt.Format(time.RFC1123)
	}
	override := "not required"
	if status.RequiresManagerOverride {
		override = "REQUIRED"
	}

	subject := fmt.Sprintf("Staff PIN lockout: %s (%s risk)", status.PrincipalID, status.RiskLevel)
	body := fmt.Sprintf(`A staff member has been locked out of PIN authentication.

Staff member:      %s
Risk level:        %s
Lockout expires:   %s
Manager override:  %s

If this lockout is unexpected, review recent attempt activity before
unlocking. Unlocks are available from the manager dashboard.
`, status.PrincipalID, status.RiskLevel, expires, override)

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	if _, err := n.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send lockout notification: %w", err)
	}

	n.logger.Info("lockout notification sent",
		slog.String("principal_id", status.PrincipalID),
		slog.Int("recipients", len(n.recipients)))
	return nil
}
