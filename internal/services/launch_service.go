package services

import (
	"context"
	"strings"
	"time"

	"cashback/internal/notify"
	"cashback/internal/validation"

	"github.com/google/logger"
)

// Countdown is the time left until launch.
type Countdown struct {
	LaunchAt time.Time `json:"launch_at"`
	Launched bool      `json:"launched"`
	Days     int64     `json:"days"`
	Hours    int64     `json:"hours"`
	Minutes  int64     `json:"minutes"`
	Seconds  int64     `json:"seconds"`
}

// LaunchService backs the coming-soon page.
type LaunchService struct {
	launchAt time.Time
	sender   notify.Sender
	now      func() time.Time
}

// NewLaunchService creates a LaunchService counting down to launchAt.
func NewLaunchService(launchAt time.Time, sender notify.Sender) *LaunchService {
	if sender == nil {
		sender = notify.Noop{}
	}
	return &LaunchService{launchAt: launchAt, sender: sender, now: time.Now}
}

// SetClock replaces the time source.
func (l *LaunchService) SetClock(now func() time.Time) { l.now = now }

// Countdown returns the remaining time, all zero once launched.
func (l *LaunchService) Countdown() Countdown {
	c := Countdown{LaunchAt: l.launchAt}
	left := l.launchAt.Sub(l.now())
	if left <= 0 {
		c.Launched = true
		return c
	}
	secs := int64(left / time.Second)
	c.Days = secs / 86400
	c.Hours = secs % 86400 / 3600
	c.Minutes = secs % 3600 / 60
	c.Seconds = secs % 60
	return c
}

// NotifyMe sends the launch sign-up confirmation.
func (l *LaunchService) NotifyMe(ctx context.Context, email, name string) error {
	addr, err := validation.Email(email)
	if err != nil {
		return invalid(err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Valued Customer"
	}
	err = l.sender.Send(ctx, "", addr, map[string]string{
		"to_email":  addr,
		"to_name":   name,
		"from_name": "CashVertz Team",
		"message": "Welcome to CashVertz! You have successfully signed up to be notified when we launch on " +
			l.launchAt.Format("January 2, 2006") + ". We are excited to revolutionize cashback shopping!",
		"reply_to": "noreply@cashvertz.com",
	})
	if err != nil {
		logger.Errorf("launch: notify %s: %v", addr, err)
		return storageErr("send notification email", err)
	}
	logger.Infof("launch: %s signed up for the launch email", addr)
	return nil
}
