// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package jadbio

import (
	lru "github.com/hashicorp/golang-lru"
)

// ResultCache holds API results that never change once the server
// has produced them: results of finished analyses, and the
// descriptions of extra algorithms. Cached values are shared between
// callers and must not be modified. A nil *ResultCache caches
// nothing.
type ResultCache struct {
	lru *lru.TwoQueueCache
}

// NewResultCache returns a cache holding at most size entries.
func NewResultCache(size int) (*ResultCache, error) {
	c, err := lru.New2Q(size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{lru: c}, nil
}

// Len returns the number of cached entries.
func (rc *ResultCache) Len() int {
	if rc == nil {
		return 0
	}
	return rc.lru.Len()
}

// Purge empties the cache.
func (rc *ResultCache) Purge() {
	if rc == nil {
		return
	}
	rc.lru.Purge()
}

func (rc *ResultCache) get(key string) (interface{}, bool) {
	if rc == nil {
		return nil, false
	}
	return rc.lru.Get(key)
}

func (rc *ResultCache) add(key string, v interface{}) {
	if rc == nil {
		return
	}
	rc.lru.Add(key, v)
}

func (rc *ResultCache) remove(key string) {
	if rc == nil {
		return
	}
	rc.lru.Remove(key)
}

func cacheKeyAnalysisResult(analysisID ID) string {
	return "analysis/" + string(analysisID) + "/result"
}

func cacheKeyExtra(kind, outcomeType string) string {
	return "extra/" + outcomeType + "/" + kind
}
