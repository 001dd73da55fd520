package server

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages は埋め込みHTMLテンプレート
var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// indexPage は / のテンプレート変数
type indexPage struct {
	Title    string
	Channels []channelLink
}

// cameraPage は /camera{N} のテンプレート変数
type cameraPage struct {
	Title   string
	Channel channelLink
}

type channelLink struct {
	Index int
	Name  string
}
