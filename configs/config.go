package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"storefront-checkout/internal/common/enum"

	"github.com/joho/godotenv"
)

var durationType = reflect.TypeOf(time.Duration(0))

// GetEnv loads .env when present, then fills Config from the environment.
// Variables without an envDefault tag are required.
func GetEnv() (config *Config, er error) {
	err := godotenv.Load()
	if err != nil {
		_ = godotenv.Load("../../.env")
	}

	config = &Config{}
	if err := load(config, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func load(config *Config, lookup func(string) (string, bool)) error {
	v := reflect.ValueOf(config).Elem()
	t := v.Type()

	for i := range make([]struct{}, v.NumField()) {
		field := t.Field(i)
		envTag := field.Tag.Get("env")
		if envTag == "" {
			continue
		}

		value, exists := lookup(envTag)
		if !exists {
			def, hasDefault := field.Tag.Lookup("envDefault")
			if !hasDefault {
				return fmt.Errorf("environment variable %s not set", envTag)
			}
			value = def
		}

		if err := setField(v.Field(i), value); err != nil {
			return fmt.Errorf("invalid value for %s: %v", envTag, err)
		}
	}

	return nil
}

func setField(f reflect.Value, value string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(value)
	case reflect.Int:
		intValue, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		f.SetInt(int64(intValue))
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		f.SetBool(boolValue)
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		f.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func (c *Config) Validate() error {
	if !c.AppEnv.IsValid() {
		return fmt.Errorf("APP_ENV %q is not one of local, development, staging, production", c.AppEnv)
	}
	if !c.DBDriver.IsValid() {
		return fmt.Errorf("DB_DRIVER %q is not supported", c.DBDriver)
	}
	if !c.GatewayDriver.IsValid() {
		return fmt.Errorf("GATEWAY_DRIVER %q is not one of rest, midtrans", c.GatewayDriver)
	}
	if c.GatewayDriver == enum.MIDTRANS && c.MidtransServerKey == "" {
		return fmt.Errorf("MIDTRANS_SERVER_KEY is required for the midtrans gateway")
	}
	if c.CheckTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("PAYMENT_CHECK_TIMEOUT and PAYMENT_POLL_INTERVAL must be positive")
	}
	return nil
}
