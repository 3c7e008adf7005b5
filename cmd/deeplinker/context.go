package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"deeplinker/internal/apiclient"
	"deeplinker/internal/config"
)

type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, addrFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		tokenFlag:  tokenFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// client builds an API client from flags, falling back to the config.
func (c *commandContext) client() *apiclient.Client {
	addr := flagValue(c.addrFlag)
	token := flagValue(c.tokenFlag)
	if cfg := c.configValue(); cfg != nil {
		if addr == "" {
			addr = cfg.API.Bind
		}
		if token == "" {
			token = cfg.API.Token
		}
		return apiclient.New(addr, token, cfg.RequestTimeout())
	}
	if addr == "" {
		addr = config.Default().API.Bind
	}
	return apiclient.New(addr, token, 0)
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
