// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_config

import (
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig holds everything the bridge needs to place and carry a call.
type AppConfig struct {
	// TelephonyProvider selects the outbound dialer; each provider requires
	// its own credential set.
	TelephonyProvider string `mapstructure:"telephony_provider" validate:"required,oneof=twilio vonage"`

	TwilioAccountSid string `mapstructure:"twilio_account_sid" validate:"required_if=TelephonyProvider twilio"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token" validate:"required_if=TelephonyProvider twilio"`

	VonageApplicationId  string `mapstructure:"vonage_application_id" validate:"required_if=TelephonyProvider vonage"`
	VonagePrivateKeyPath string `mapstructure:"vonage_private_key_path" validate:"required_if=TelephonyProvider vonage"`

	// FromNumber is the bridge's outbound caller id; ToNumber is the human
	// being called.
	FromNumber string `mapstructure:"from_number" validate:"required,e164"`
	ToNumber   string `mapstructure:"to_number" validate:"required,e164"`

	// Speech provider.
	DeepgramApiKey string `mapstructure:"deepgram_api_key" validate:"required"`
	TTSVoice       string `mapstructure:"tts_voice" validate:"required"`
	STTModel       string `mapstructure:"stt_model" validate:"required"`

	// PublicUrl is the externally routable base URL the telephony provider
	// uses to fetch the call descriptor and open the media stream.
	PublicUrl string `mapstructure:"public_url" validate:"required,url"`

	Port     int    `mapstructure:"port" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
}

// InitConfig reads configuration from a .env file (or ENV_PATH) with
// environment variables taking precedence.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	path := os.Getenv("ENV_PATH")
	if path != "" {
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}

	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("PORT", 3333)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TELEPHONY_PROVIDER", "twilio")
	v.SetDefault("TTS_VOICE", "aura-asteria-en")
	v.SetDefault("STT_MODEL", "nova-2")

	// Required values have no usable defaults; registering them keeps viper's
	// Unmarshal aware of the keys even when only env variables are set.
	for _, key := range []string{
		"TWILIO_ACCOUNT_SID",
		"TWILIO_AUTH_TOKEN",
		"VONAGE_APPLICATION_ID",
		"VONAGE_PRIVATE_KEY_PATH",
		"FROM_NUMBER",
		"TO_NUMBER",
		"DEEPGRAM_API_KEY",
		"PUBLIC_URL",
	} {
		v.SetDefault(key, "")
	}
}

// GetApplicationConfig unmarshals and validates the application config.
// A missing required value is a startup failure.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var config AppConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: unmarshal failed: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &config, nil
}

// PublicHost returns the authority portion of PublicUrl, the host the
// telephony provider is told to open the media WebSocket against.
func (c *AppConfig) PublicHost() (string, error) {
	u, err := url.Parse(c.PublicUrl)
	if err != nil {
		return "", fmt.Errorf("config: invalid public url %q: %w", c.PublicUrl, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("config: public url %q has no host", c.PublicUrl)
	}
	return u.Host, nil
}
