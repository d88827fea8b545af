package main

import "time"

type Config struct {
	BadgerFilepath            string        `env:"BADGER_FILEPATH,required=true"`
	IndexFilepath             string        `env:"INDEX_FILEPATH,required=true"`
	LogLevel                  string        `env:"LOG_LEVEL,required=true"`
	Host                      string        `env:"HOST,default=localhost"`
	Port                      int           `env:"PORT,default=8080"`
	JWTSecret                 string        `env:"JWT_SECRET,required=true"`
	TokenDuration             time.Duration `env:"TOKEN_DURATION,default=24h"`
	SendBufferSize            int           `env:"SEND_BUFFER_SIZE,default=256"`
	MaxBodyLength             int           `env:"MAX_BODY_LENGTH,default=1000"`
	ModerationCharReplacement rune          `env:"MODERATION_CHARACTER_REPLACEMENT,required=true"`
	TypingDebounce            time.Duration `env:"TYPING_DEBOUNCE,default=1s"`
	TypingQuiet               time.Duration `env:"TYPING_QUIET,default=5s"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,required=true"`
	HealthInterval            time.Duration `env:"HEALTH_INTERVAL,default=30s"`
}
