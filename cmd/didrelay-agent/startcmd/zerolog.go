/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"io"
	"time"

	spilog "github.com/hyperledger/aries-framework-go/spi/log"
	"github.com/rs/zerolog"
)

// zerologProvider writes JSON log lines. Level filtering stays with component/log, so every line handed over here
// is written.
type zerologProvider struct {
	base zerolog.Logger
}

func newZerologProvider(out io.Writer) *zerologProvider {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	return &zerologProvider{
		base: zerolog.New(out).Level(zerolog.DebugLevel).With().Timestamp().Logger(),
	}
}

// GetLogger returns a logger tagging every line with module.
func (p *zerologProvider) GetLogger(module string) spilog.Logger {
	return &zerologLogger{l: p.base.With().Str("module", module).Logger()}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (z *zerologLogger) Panicf(msg string, args ...interface{}) { z.l.Panic().Msgf(msg, args...) }
func (z *zerologLogger) Fatalf(msg string, args ...interface{}) { z.l.Fatal().Msgf(msg, args...) }
func (z *zerologLogger) Errorf(msg string, args ...interface{}) { z.l.Error().Msgf(msg, args...) }
func (z *zerologLogger) Warnf(msg string, args ...interface{})  { z.l.Warn().Msgf(msg, args...) }
func (z *zerologLogger) Infof(msg string, args ...interface{})  { z.l.Info().Msgf(msg, args...) }
func (z *zerologLogger) Debugf(msg string, args ...interface{}) { z.l.Debug().Msgf(msg, args...) }
