// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

type searchRequest struct {
	Tor         searchTor `json:"tor"`
	Description bool      `json:"description"`
	Isbn        bool      `json:"isbn"`
	MediaInfo   bool      `json:"mediaInfo"`
	DlLink      string    `json:"dlLink"`
}

type searchTor struct {
	Hash        string `json:"hash,omitempty"`
	ID          int64  `json:"id,omitempty"`
	SearchType  string `json:"searchType"`
	SearchIn    string `json:"searchIn"`
	StartNumber string `json:"startNumber"`
}

// SearchResponse is the body of a search call.
type SearchResponse struct {
	Error string          `json:"error,omitempty"`
	Data  []SearchTorrent `json:"data"`
	Total int             `json:"total"`
	Found int             `json:"found"`
}

// SearchTorrent is one torrent as returned by the search API. The *_info
// fields are JSON documents encoded as strings.
type SearchTorrent struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	AuthorInfo   string     `json:"author_info"`
	NarratorInfo string     `json:"narrator_info"`
	SeriesInfo   string     `json:"series_info"`
	MainCat      int        `json:"main_cat"`
	Category     int        `json:"category"`
	CatName      string     `json:"catname"`
	LangCode     string     `json:"lang_code"`
	FileType     string     `json:"filetype"`
	Size         string     `json:"size"`
	Added        string     `json:"added"`
	Isbn         flexString `json:"isbn"`
	Description  string     `json:"description"`
	BrowseFlags  int        `json:"browseflags"`
	NumFiles     int        `json:"numfiles"`
	Tags         string     `json:"tags"`
	VIP          flexBool   `json:"vip"`
	Free         flexBool   `json:"free"`
	PersonalFL   flexBool   `json:"personal_freeleech"`
	FLVIP        flexBool   `json:"fl_vip"`
	MySnatched   flexBool   `json:"my_snatched"`
}

// flexString accepts JSON strings, numbers and null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// flexBool accepts true/false, 0/1 and "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := string(bytes.Trim(bytes.TrimSpace(data), `"`))
	switch s {
	case "", "null", "false", "0":
		*f = false
	case "true":
		*f = true
	default:
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*f = n != 0
	}
	return nil
}
