package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/postboard/internal/middleware"
	"github.com/hitoshi/postboard/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// テンプレート名。templates/<name>.html をlayoutと組み合わせて描画する。
const (
	pageLogin     = "login"
	pageIndex     = "index"
	pagePost      = "post"
	pageAuthError = "auth_error"
	pageError     = "error"
)

var pageNames = []string{pageLogin, pageIndex, pagePost, pageAuthError, pageError}

// Renderer はHTMLページを描画する。
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer は埋め込みテンプレートを解析してRendererを生成する。
func NewRenderer() (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages}, nil
}

// Render はページをバッファに描画してからレスポンスに書き込む。
// 描画に失敗した場合は500を返す。
func (rd *Renderer) Render(w http.ResponseWriter, status int, name string, data *pageData) {
	t, ok := rd.pages[name]
	if !ok {
		slog.Error("unknown template", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		slog.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// pageData は全ページ共通のテンプレートデータ。
type pageData struct {
	Title     string
	User      *model.User
	CSRFField string
	CSRFToken string
	Flashes   []string

	// login
	AuthURL string
	Next    string

	// index
	Posts []postView

	// post
	Action   string
	Form     postForm
	Post     *postView
	ImageURL string
	Errors   []string

	// auth_error
	ErrorPayload map[string]string

	// error
	Message string
}

func newPageData(r *http.Request, title string, user *model.User) *pageData {
	return &pageData{
		Title:     title,
		User:      user,
		CSRFField: middleware.CSRFFormField,
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
	}
}

// postView は投稿の表示用データ。
type postView struct {
	ID        int64
	Title     string
	Author    string
	BodyHTML  template.HTML // 保存時にサニタイズ済み
	ImageURL  string
	CreatedAt time.Time
}

func toPostView(p *model.Post, imageURL string) postView {
	return postView{
		ID:        p.ID,
		Title:     p.Title,
		Author:    p.Author,
		BodyHTML:  template.HTML(p.Body),
		ImageURL:  imageURL,
		CreatedAt: p.CreatedAt,
	}
}
