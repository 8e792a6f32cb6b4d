// Package post は投稿の閲覧・作成・編集のドメインロジックを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/postboard/internal/model"
	"github.com/hitoshi/postboard/internal/repository"
	"github.com/hitoshi/postboard/internal/security"
	"github.com/hitoshi/postboard/internal/storage"
)

// DefaultListLimit は一覧に表示する投稿の最大件数。
const DefaultListLimit = 50

// ErrTitleRequired はサニタイズ後のタイトルが空であることを表す。
var ErrTitleRequired = errors.New("post title is required")

// ImageStore は投稿画像の保存先インターフェース。storage.S3ImageStoreが実装する。
type ImageStore interface {
	Put(ctx context.Context, name string, body io.Reader, contentType string) error
	Delete(ctx context.Context, name string) error
	URL(name string) string
}

// Recorder は投稿の書き込みを記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordPostWritten(action string)
}

// Input は投稿フォームの入力値。Imageは画像が添付されていない場合nil。
type Input struct {
	Title  string
	Author string
	Body   string
	Image  io.Reader
}

// Service は投稿のサービス層。
type Service struct {
	posts     repository.PostRepository
	images    ImageStore
	sanitizer security.ContentSanitizer
	recorder  Recorder
	newName   func() string
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(posts repository.PostRepository, images ImageStore, sanitizer security.ContentSanitizer, recorder Recorder) *Service {
	return &Service{
		posts:     posts,
		images:    images,
		sanitizer: sanitizer,
		recorder:  recorder,
		newName:   uuid.NewString,
	}
}

// List は新しい順に投稿を返す。
func (s *Service) List(ctx context.Context) ([]*model.Post, error) {
	posts, err := s.posts.List(ctx, DefaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	return posts, nil
}

// Get は投稿を取得する。存在しない場合はPOST_NOT_FOUNDのAPIErrorを返す。
func (s *Service) Get(ctx context.Context, id int64) (*model.Post, error) {
	p, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return p, nil
}

// Create は投稿を作成する。画像が添付されていれば保存してから投稿を記録する。
func (s *Service) Create(ctx context.Context, userID string, in Input) (*model.Post, error) {
	p := &model.Post{UserID: userID}
	if err := s.apply(p, in); err != nil {
		return nil, err
	}

	imageName, err := s.storeImage(ctx, in.Image)
	if err != nil {
		return nil, err
	}
	p.ImagePath = imageName

	if err := s.posts.Create(ctx, p); err != nil {
		s.discardImage(ctx, imageName)
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	slog.Info("post created",
		slog.Int64("post_id", p.ID),
		slog.String("user_id", userID),
	)
	s.record("create")
	return p, nil
}

// Update は投稿を更新する。新しい画像が添付された場合は差し替え、古い画像を削除する。
// 画像が添付されていない場合は既存の画像を維持する。
func (s *Service) Update(ctx context.Context, id int64, in Input) (*model.Post, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(p, in); err != nil {
		return nil, err
	}

	newImage, err := s.storeImage(ctx, in.Image)
	if err != nil {
		return nil, err
	}
	oldImage := p.ImagePath
	if newImage != "" {
		p.ImagePath = newImage
	}

	if err := s.posts.Update(ctx, p); err != nil {
		s.discardImage(ctx, newImage)
		return nil, fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	if newImage != "" {
		s.discardImage(ctx, oldImage)
	}

	slog.Info("post updated", slog.Int64("post_id", p.ID))
	s.record("update")
	return p, nil
}

// ImageURL は投稿画像の公開URLを返す。画像なしは空文字列。
func (s *Service) ImageURL(p *model.Post) string {
	if p == nil || p.ImagePath == "" {
		return ""
	}
	return s.images.URL(p.ImagePath)
}

func (s *Service) apply(p *model.Post, in Input) error {
	title := s.sanitizer.SanitizeText(in.Title)
	if title == "" {
		return ErrTitleRequired
	}
	p.Title = title
	p.Author = s.sanitizer.SanitizeText(in.Author)
	p.Body = s.sanitizer.SanitizeBody(in.Body)
	return nil
}

// storeImage は画像を検証して保存し、オブジェクト名を返す。画像なしは空文字列。
func (s *Service) storeImage(ctx context.Context, r io.Reader) (string, error) {
	if r == nil {
		return "", nil
	}
	img, err := storage.SniffImage(r)
	if err != nil {
		if errors.Is(err, storage.ErrUnsupportedImage) {
			return "", model.NewInvalidImageError(err.Error())
		}
		return "", err
	}

	name := s.newName() + img.Extension
	if err := s.images.Put(ctx, name, img.Body, img.ContentType); err != nil {
		return "", fmt.Errorf("画像の保存に失敗しました: %w", err)
	}
	return name, nil
}

// discardImage は不要になった画像を削除する。失敗しても投稿操作は成功扱いにする。
func (s *Service) discardImage(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if err := s.images.Delete(ctx, name); err != nil {
		slog.Warn("failed to delete image",
			slog.String("image", name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) record(action string) {
	if s.recorder != nil {
		s.recorder.RecordPostWritten(action)
	}
}
