// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"math/rand"
	"os"
	"reflect"
	"strconv"
	"testing"
	"testing/quick"
	"time"
)

// IterCount is the number of iterations for randomized tests,
// reduced in short mode and under the race detector.
func IterCount() int {
	iters := 1000
	if testing.Short() {
		iters /= 10
	}
	if RaceEnabled {
		iters /= 10
	}
	return iters
}

// RandSource returns a time-seeded source, BF_SEED overrides the seed.
// The seed is logged so that a failure can be replayed.
func RandSource(t *testing.T) rand.Source {
	seed := time.Now().UnixNano()
	if fixed := os.Getenv("BF_SEED"); fixed != "" {
		seed, _ = strconv.ParseInt(fixed, 0, 64)
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}

// RandValue creates a random value of the same type as the argument typ.
// It recursively fills structs/slices/maps similar to testing/quick.Value,
// but it handles time.Time as well w/o panicing (unfortunately testing/quick panics on time.Time).
func RandValue(t *testing.T, typ any) any {
	return randValue(t, rand.New(RandSource(t)), reflect.TypeOf(typ)).Interface()
}

func randValue(t *testing.T, rnd *rand.Rand, typ reflect.Type) reflect.Value {
	v := reflect.New(typ).Elem()
	switch typ.Kind() {
	default:
		ok := false
		v, ok = quick.Value(typ, rnd)
		if !ok {
			t.Fatalf("failed to generate random value of type %v", typ)
		}
	case reflect.Slice:
		size := rand.Intn(4)
		v.Set(reflect.MakeSlice(typ, size, size))
		fallthrough
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			v.Index(i).Set(randValue(t, rnd, typ.Elem()))
		}
	case reflect.Struct:
		if typ.String() == "time.Time" {
			v = reflect.ValueOf(time.UnixMilli(rnd.Int63()))
		} else {
			for i := 0; i < v.NumField(); i++ {
				v.Field(i).Set(randValue(t, rnd, typ.Field(i).Type))
			}
		}
	case reflect.Pointer:
		v.SetZero()
		if rand.Intn(2) == 0 {
			v.Set(reflect.New(typ.Elem()))
			v.Elem().Set(randValue(t, rnd, typ.Elem()))
		}
	case reflect.Map:
		v.Set(reflect.MakeMap(typ))
		for i := rand.Intn(4); i > 0; i-- {
			v.SetMapIndex(randValue(t, rnd, typ.Key()), randValue(t, rnd, typ.Elem()))
		}
	}
	return v
}

// RandInput returns up to maxLen random bytes. Small byte values are
// preferred so that inputs hit length and tag fields of parsers.
func RandInput(rnd *rand.Rand, maxLen int) []byte {
	data := make([]byte, rnd.Intn(maxLen+1))
	for i := range data {
		if rnd.Intn(2) == 0 {
			data[i] = byte(rnd.Intn(16))
		} else {
			data[i] = byte(rnd.Intn(256))
		}
	}
	return data
}
