package store_test

import (
	"testing"

	"dash0.com/window-drain-backend/internal/store"
	"dash0.com/window-drain-backend/internal/store/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}
