// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends an operator email when a channel transitions
// to Faulted, mirroring cmd/eda-ctl's file-stall mail alert.
package alert // import "github.com/go-lpc/roc/internal/alert"

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	mail "gopkg.in/gomail.v2"
)

// Config holds the SMTP credentials and recipient list a Mailer sends
// through. A zero Config is valid but Send is then a no-op, logging
// why instead of failing the caller.
type Config struct {
	User string
	Pass string
	Host string
	Port int
	To   []string
}

// ConfigFromEnv reads the same MAIL_* environment variables
// cmd/eda-ctl did.
func ConfigFromEnv() Config {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	var to []string
	if tgts := os.Getenv("MAIL_TGTS"); tgts != "" {
		to = strings.Split(tgts, ",")
	}
	return Config{
		User: os.Getenv("MAIL_USERNAME"),
		Pass: os.Getenv("MAIL_PASSWORD"),
		Host: os.Getenv("MAIL_SERVER"),
		Port: port,
		To:   to,
	}
}

func (c Config) valid() bool {
	return c.User != "" && c.Pass != "" && c.Host != "" && c.Port != 0 && len(c.To) > 0
}

// Mailer sends Faulted-channel alerts by email, rate-limited per
// channel key the same way cmd/eda-ctl limited per-file alerts.
type Mailer struct {
	cfg    Config
	msg    *log.Logger
	max    int
	counts map[string]int
}

// New returns a Mailer that stops sending after max alerts for the
// same key (default 5, matching cmd/eda-ctl's maxAlerts).
func New(cfg Config, msg *log.Logger, max int) *Mailer {
	if max <= 0 {
		max = 5
	}
	return &Mailer{cfg: cfg, msg: msg, max: max, counts: make(map[string]int)}
}

// Faulted sends an alert that channel key has entered the Faulted
// state with the given reason, unless it has already been alerted on
// max times.
func (m *Mailer) Faulted(key, reason string) {
	m.counts[key]++
	m.msg.Printf("channel %q faulted: %s", key, reason)

	if m.counts[key] > m.max {
		return
	}
	m.send(key, reason)
}

func (m *Mailer) send(key, reason string) {
	if !m.cfg.valid() {
		m.msg.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.User)
	msg.SetHeader("Bcc", m.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[roc] channel %q faulted", key))
	msg.SetBody("text/plain", fmt.Sprintf("channel: %q\nreason: %s\n", key, reason))

	dial := mail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Pass)
	dial.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	if err := dial.DialAndSend(msg); err != nil {
		m.msg.Printf("could not send mail alert: %+v", err)
	}
}
