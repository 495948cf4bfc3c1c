package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(overrides map[string]interface{}) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range overrides {
		v.Set(k, val)
	}
	return v
}

func TestDefaults(t *testing.T) {
	cfg, err := fromViper(newViper(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppPort)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "sql", cfg.OrderStore)
	assert.Equal(t, "stripe", cfg.PaymentGateway)
	assert.Equal(t, "usd", cfg.Currency)
	assert.Equal(t, 168*time.Hour, cfg.JWTExpiresIn)
	assert.Equal(t, 5, cfg.DeadLetterMaxAttempts)
	assert.Equal(t, time.Minute, cfg.DeadLetterReplayInterval)
	assert.False(t, cfg.IsProduction())
}

func TestRazorpayDefaultsToRupees(t *testing.T) {
	cfg, err := fromViper(newViper(map[string]interface{}{
		"PAYMENT_GATEWAY": "Razorpay",
		"RAZORPAY_KEY_ID": "rzp_test_key",
	}))
	require.NoError(t, err)

	assert.Equal(t, "razorpay", cfg.PaymentGateway)
	assert.Equal(t, "inr", cfg.Currency)
	assert.Equal(t, "rzp_test_key", cfg.RazorpayKeyID)
}

func TestRejectsUnknownSettings(t *testing.T) {
	_, err := fromViper(newViper(map[string]interface{}{"PAYMENT_GATEWAY": "paypal"}))
	assert.ErrorContains(t, err, "PAYMENT_GATEWAY")

	_, err = fromViper(newViper(map[string]interface{}{"DB_DRIVER": "oracle"}))
	assert.ErrorContains(t, err, "DB_DRIVER")

	_, err = fromViper(newViper(map[string]interface{}{"ORDER_STORE": "files"}))
	assert.ErrorContains(t, err, "ORDER_STORE")
}
