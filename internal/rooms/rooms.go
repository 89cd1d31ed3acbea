package rooms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"slices"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-playground/validator/v10"

	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/booking"
	"github.com/avstrong/bnb/internal/logger"
	"github.com/avstrong/bnb/internal/pricing"
	"github.com/avstrong/bnb/internal/validation"
)

const (
	maxImageSide   = 1600
	thumbnailWidth = 400
	jpegQuality    = 85
)

var (
	// ErrRoomReferenced means bookings still point at the room; deactivate it instead.
	ErrRoomReferenced = errors.New("room is referenced by bookings")
	ErrBadImage       = errors.New("image could not be decoded")
)

type idGenerator interface {
	GetID(ctx context.Context) (string, error)
}

type storage interface {
	SaveRoom(ctx context.Context, room *booking.Room) error
	GetRoom(ctx context.Context, id string) (*booking.Room, error)
	ListRooms(ctx context.Context, onlyActive bool) ([]*booking.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	CountRoomBookings(ctx context.Context, roomID string) (int, error)
}

// Input is what an admin submits when creating or replacing a room.
type Input struct {
	Name        string           `json:"name"        validate:"required,max=120"`
	Description string           `json:"description" validate:"max=4000"`
	Type        booking.RoomType `json:"type"        validate:"required,oneof=room apartment"`
	Capacity    int              `json:"capacity"    validate:"gte=1,lte=20"`
	Amenities   []string         `json:"amenities"   validate:"dive,required,max=60"`
	Pricing     pricing.Pricing  `json:"pricing"`
	IsActive    *bool            `json:"isActive"`
}

// Catalog is the admin side of rooms plus the public listing.
type Catalog struct {
	l           *logger.Logger
	storage     storage
	blobs       blob.Store
	idGenerator idGenerator
	validate    *validator.Validate
	now         func() time.Time
}

func New(l *logger.Logger, storage storage, blobs blob.Store, idGenerator idGenerator) *Catalog {
	return &Catalog{
		l:           l,
		storage:     storage,
		blobs:       blobs,
		idGenerator: idGenerator,
		validate:    validation.New(),
		now:         time.Now,
	}
}

func (c *Catalog) validateInput(input *Input) error {
	validationErr := booking.NewValidationError()

	if err := c.validate.Struct(input); err != nil {
		fields := validation.Fields(err)
		if fields == nil {
			return fmt.Errorf("validate room input: %w", err)
		}

		for field, msgs := range fields {
			for _, msg := range msgs {
				validationErr.AddError(field, msg)
			}
		}
	}

	if err := pricing.ValidatePricing(input.Pricing); err != nil {
		validationErr.AddError("pricing", err.Error())
	}

	if validationErr.FieldsCount() > 0 {
		return validationErr
	}

	return nil
}

func (c *Catalog) CreateRoom(ctx context.Context, input *Input) (*booking.Room, error) {
	if err := c.validateInput(input); err != nil {
		return nil, err
	}

	id, err := c.idGenerator.GetID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", booking.ErrNextID, err)
	}

	now := c.now().UTC()
	room := &booking.Room{
		ID:        id,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(room, input)

	if err := c.storage.SaveRoom(ctx, room); err != nil {
		return nil, &booking.BackingStoreError{Op: "save room " + id, Err: err}
	}

	c.l.LogInfo("Room %s (%s) created", room.ID, room.Name)

	return room, nil
}

func apply(room *booking.Room, input *Input) {
	room.Name = input.Name
	room.Description = input.Description
	room.Type = input.Type
	room.Capacity = input.Capacity
	room.Amenities = slices.Clone(input.Amenities)
	room.Pricing = input.Pricing

	if input.IsActive != nil {
		room.IsActive = *input.IsActive
	}
}

// UpdateRoom replaces the editable fields of a room. Existing bookings keep their
// price; only new bookings see the new rates.
func (c *Catalog) UpdateRoom(ctx context.Context, id string, input *Input) (*booking.Room, error) {
	if err := c.validateInput(input); err != nil {
		return nil, err
	}

	room, err := c.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}

	apply(room, input)
	room.UpdatedAt = c.now().UTC()

	if err := c.storage.SaveRoom(ctx, room); err != nil {
		return nil, &booking.BackingStoreError{Op: "save room " + id, Err: err}
	}

	return room, nil
}

func (c *Catalog) GetRoom(ctx context.Context, id string) (*booking.Room, error) {
	room, err := c.storage.GetRoom(ctx, id)
	if errors.Is(err, booking.ErrRecordNotFound) {
		return nil, fmt.Errorf("get room %s: %w", id, err)
	}

	if err != nil {
		return nil, &booking.BackingStoreError{Op: "get room " + id, Err: err}
	}

	return room, nil
}

// ListRooms returns rooms ordered by name. Guests only ever see active rooms.
func (c *Catalog) ListRooms(ctx context.Context, includeInactive bool) ([]*booking.Room, error) {
	list, err := c.storage.ListRooms(ctx, !includeInactive)
	if err != nil {
		return nil, &booking.BackingStoreError{Op: "list rooms", Err: err}
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}

		return list[i].ID < list[j].ID
	})

	return list, nil
}

// Deactivate hides a room from the public listing. Its bookings stay untouched.
func (c *Catalog) Deactivate(ctx context.Context, id string) (*booking.Room, error) {
	room, err := c.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}

	if !room.IsActive {
		return room, nil
	}

	room.IsActive = false
	room.UpdatedAt = c.now().UTC()

	if err := c.storage.SaveRoom(ctx, room); err != nil {
		return nil, &booking.BackingStoreError{Op: "save room " + id, Err: err}
	}

	c.l.LogInfo("Room %s deactivated", id)

	return room, nil
}

// Delete removes a room nobody ever booked, together with its images.
func (c *Catalog) Delete(ctx context.Context, id string) error {
	room, err := c.GetRoom(ctx, id)
	if err != nil {
		return err
	}

	n, err := c.storage.CountRoomBookings(ctx, id)
	if err != nil {
		return &booking.BackingStoreError{Op: "count bookings of room " + id, Err: err}
	}

	if n > 0 {
		return fmt.Errorf("delete room %s with %d bookings: %w", id, n, ErrRoomReferenced)
	}

	if err := c.storage.DeleteRoom(ctx, id); err != nil {
		return &booking.BackingStoreError{Op: "delete room " + id, Err: err}
	}

	for _, url := range room.Images {
		c.deleteImage(ctx, url)
	}

	c.l.LogInfo("Room %s deleted", id)

	return nil
}

func (c *Catalog) deleteImage(ctx context.Context, url string) {
	key, ok := blob.KeyFromURL(url)
	if !ok {
		return
	}

	for _, k := range []string{key, thumbKey(key)} {
		if err := c.blobs.Delete(ctx, k); err != nil && !errors.Is(err, blob.ErrNotFound) {
			c.l.LogWarnf("Could not delete image %s: %v", k, err.Error())
		}
	}
}

func thumbKey(key string) string {
	return "thumb/" + key
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

// AddImage stores an uploaded picture, downscaled to fit 1600px, plus a 400px wide
// thumbnail, and appends its url to the room.
func (c *Catalog) AddImage(ctx context.Context, roomID string, r io.Reader) (*booking.Room, error) {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadImage, err)
	}

	full, err := encodeJPEG(imaging.Fit(img, maxImageSide, maxImageSide, imaging.Lanczos))
	if err != nil {
		return nil, err
	}

	thumb, err := encodeJPEG(imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos))
	if err != nil {
		return nil, err
	}

	id, err := c.idGenerator.GetID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", booking.ErrNextID, err)
	}

	key := "rooms/" + roomID + "/" + id + ".jpg"

	url, err := c.blobs.Put(ctx, key, "image/jpeg", full)
	if err != nil {
		return nil, &booking.BackingStoreError{Op: "put image " + key, Err: err}
	}

	if _, err := c.blobs.Put(ctx, thumbKey(key), "image/jpeg", thumb); err != nil {
		c.deleteImage(ctx, url)

		return nil, &booking.BackingStoreError{Op: "put thumbnail " + key, Err: err}
	}

	room.Images = append(room.Images, url)
	room.UpdatedAt = c.now().UTC()

	if err := c.storage.SaveRoom(ctx, room); err != nil {
		c.deleteImage(ctx, url)

		return nil, &booking.BackingStoreError{Op: "save room " + roomID, Err: err}
	}

	return room, nil
}

// RemoveImage drops url from the room and deletes the stored files.
func (c *Catalog) RemoveImage(ctx context.Context, roomID, url string) (*booking.Room, error) {
	room, err := c.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	idx := slices.Index(room.Images, url)
	if idx < 0 {
		return nil, fmt.Errorf("image %s of room %s: %w", url, roomID, booking.ErrRecordNotFound)
	}

	room.Images = slices.Delete(room.Images, idx, idx+1)
	room.UpdatedAt = c.now().UTC()

	if err := c.storage.SaveRoom(ctx, room); err != nil {
		return nil, &booking.BackingStoreError{Op: "save room " + roomID, Err: err}
	}

	c.deleteImage(ctx, url)

	return room, nil
}
