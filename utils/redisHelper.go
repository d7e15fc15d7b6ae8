package utils

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/vastramandir/storefront_backend/config"
)

func GetCacheLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("CACHE_LIFESPAN"))
	if err != nil {
		lifespan = 1
	}
	return time.Duration(lifespan) * time.Hour
}

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// check if model has expiration date
func typeHasExpiration(typeName string) bool {
	expirableTypes := map[string]bool{
		"Product": true,
		"Setting": true,
	}
	return expirableTypes[typeName]
}

func redisItemKey[T any](id any) string {
	return GetTypeName[T]() + ":" + fmt.Sprint(id)
}

// store instance under Type:$id
func StoreRedis[T any](obj *T, id any) error {
	typeName := GetTypeName[T]()

	var duration time.Duration
	if typeHasExpiration(typeName) {
		duration = GetCacheLifespan()
	}
	return config.SetRedisObject(redisItemKey[T](id), obj, duration)
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id any) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(redisItemKey[T](id), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id any) error {
	return config.RemoveRedisKey(redisItemKey[T](id))
}
