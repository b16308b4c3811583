package transport

import (
	"context"
	"testing"
	"time"

	glog "github.com/omgolab/go-commons/pkg/log"
	"github.com/stretchr/testify/require"
)

func TestCreateLibp2pHostSucceeds(t *testing.T) {
	log, err := glog.New()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := CreateLibp2pHost(ctx, WithHostLogger(log), WithPubsubDiscovery(true))
	require.NoError(t, err)
	defer h.Close()

	require.NotEmpty(t, h.ID().String())
	require.NotEmpty(t, h.Addrs())
}

func TestCreateLibp2pHostMultipleInstances(t *testing.T) {
	log, err := glog.New()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		h, err := CreateLibp2pHost(ctx, WithHostLogger(log), WithPubsubDiscovery(true))
		require.NoError(t, err)
		h.Close()
	}
}
