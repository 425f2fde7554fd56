package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/pkg/logger"
	"github.com/dmitrymomot/clinicbilling/pkg/memstore"
)

func TestOpenStore_Memory(t *testing.T) {
	t.Parallel()

	store, closeStore, err := openStore(context.Background(), storeConfig{Driver: driverMemory}, true, logger.Discard())
	require.NoError(t, err)
	assert.IsType(t, &memstore.Store{}, store)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, closeStore(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, _, err := openStore(context.Background(), storeConfig{Driver: "sqlite"}, false, logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite")
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "migrate", "sweep"}, names)
}
