package localauth

import (
	"context"

	"go.uber.org/zap"
)

// CodeSender delivers one-time codes and sign-up confirmations out-of-band.
type CodeSender interface {
	SendOTP(ctx context.Context, phone string, code string) error
	SendSignUpConfirmation(ctx context.Context, email string, displayName string) error
}

// LogSender writes deliveries to the log. It stands in for SMS and e-mail gateways in development.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// SendOTP logs the code for the phone number.
func (sender *LogSender) SendOTP(ctx context.Context, phone string, code string) error {
	sender.logger.Info("otp issued",
		zap.String("code", "localauth.otp.sent"),
		zap.String("phone", phone),
		zap.String("otp", code))
	return nil
}

// SendSignUpConfirmation logs the confirmation notice.
func (sender *LogSender) SendSignUpConfirmation(ctx context.Context, email string, displayName string) error {
	sender.logger.Info("sign up confirmation issued",
		zap.String("code", "localauth.signup.confirmation_sent"),
		zap.String("email", email),
		zap.String("display_name", displayName))
	return nil
}
