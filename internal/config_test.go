package internal

import (
	"testing"
	"time"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	req := require.New(t)
	var config Config
	err := env.Unmarshal(env.EnvSet{"PORT": "9090", "AUTH_SECRET": "s3cret"}, &config)
	req.NoError(err)

	req.Equal(9090, config.Port)
	req.Equal("INFO", config.LogLevel)
	req.Equal(30*time.Second, config.InvitationTimeout)
	req.True(config.ResyncOnGap)

	coordinator := config.Coordinator()
	req.Equal(5*time.Second, coordinator.OperationTimeout)
	req.Equal(1024, coordinator.MaxContentLength)
	req.Equal(20, coordinator.SearchLimit)
}

func TestConfig_Required(t *testing.T) {
	req := require.New(t)
	var config Config
	err := env.Unmarshal(env.EnvSet{"PORT": "9090"}, &config)
	req.Error(err)
}

func TestCharacterRune(t *testing.T) {
	req := require.New(t)
	r, err := CharacterRune("#")
	req.NoError(err)
	req.Equal('#', r)

	_, err = CharacterRune("##")
	req.Error(err)
	_, err = CharacterRune("")
	req.Error(err)
}
