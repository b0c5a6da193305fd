package kv_test

import (
	"context"
	"fmt"
	"log"

	"github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv"

	// Import backends to register them
	_ "github.com/ubiquity/ubiquity-dollar-sub001/pkg/kv/memory"
)

func ExampleNewStoreFromConfig_memory() {
	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendMemory})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()

	err = store.Apply(ctx,
		kv.HSetOp("yp:positions", "0xabc", []byte(`{"principal":"1000"}`)),
		kv.SAddOp("yp:protocol_tokens", []byte("0xdef")),
	)
	if err != nil {
		log.Fatal(err)
	}

	n, err := store.HLen(ctx, "yp:positions")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(n)
	// Output: 1
}
