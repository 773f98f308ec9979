// Package ormtest provides a small music catalogue schema shared by the ORM
// package tests: entity types, their metadata and their accessor descriptors.
package ormtest

import (
	"errors"

	"github.com/conduit-lang/persist/internal/orm/entity"
	"github.com/conduit-lang/persist/internal/orm/schema"
)

// Artist has many albums; deleting an artist deletes its albums
type Artist struct {
	entity.Base
	Name   string
	Alias  string
	Albums entity.Collection[*Album]
}

// NewArtist creates an artist with its album collection bound
func NewArtist(name string) *Artist {
	a := &Artist{Name: name}
	a.Albums = entity.NewCollection[*Album](&a.Base, "Albums")
	return a
}

func (a *Artist) EntityName() string { return "Artist" }

func (a *Artist) Validate() error {
	if a.Name == "" {
		return errors.New("artist name is required")
	}
	return nil
}

func (a *Artist) SetName(v string) {
	a.Track("Name", a.Name, v)
	a.Name = v
}

func (a *Artist) SetAlias(v string) {
	a.Track("Alias", a.Alias, v)
	a.Alias = v
}

// Label publishes albums and is never cascaded
type Label struct {
	entity.Base
	Name    string
	Country string
}

func (l *Label) EntityName() string { return "Label" }

func (l *Label) SetName(v string) {
	l.Track("Name", l.Name, v)
	l.Name = v
}

// Album belongs to an artist and optionally to a label
type Album struct {
	entity.Base
	Title    string
	Year     int
	ArtistID int64
	Artist   *Artist
	LabelID  int64
	Label    *Label
	Tracks   entity.Collection[*Track]
}

// NewAlbum creates an album and adds it to the artist's albums
func NewAlbum(artist *Artist, title string) *Album {
	al := &Album{Title: title}
	al.Tracks = entity.NewCollection[*Track](&al.Base, "Tracks")
	if artist != nil {
		al.SetArtist(artist)
		artist.Albums.Add(al)
	}
	return al
}

func (al *Album) EntityName() string { return "Album" }

func (al *Album) SetTitle(v string) {
	al.Track("Title", al.Title, v)
	al.Title = v
}

func (al *Album) SetYear(v int) {
	al.Track("Year", al.Year, v)
	al.Year = v
}

func (al *Album) SetArtist(a *Artist) {
	var id int64
	if a != nil {
		id = a.ID
	}
	al.Track("ArtistId", al.ArtistID, id)
	al.Track("Artist", al.Artist, a)
	al.ArtistID = id
	al.Artist = a
}

func (al *Album) SetArtistID(v int64) {
	al.Track("ArtistId", al.ArtistID, v)
	al.ArtistID = v
}

func (al *Album) SetLabel(l *Label) {
	var id int64
	if l != nil {
		id = l.ID
	}
	al.Track("LabelId", al.LabelID, id)
	al.Track("Label", al.Label, l)
	al.LabelID = id
	al.Label = l
}

func (al *Album) SetLabelID(v int64) {
	al.Track("LabelId", al.LabelID, v)
	al.LabelID = v
}

// Track is a song on an album
type Track struct {
	entity.Base
	Title   string
	Seconds int
	AlbumID int64
	Album   *Album
}

// NewTrack creates a track and adds it to the album's tracks
func NewTrack(album *Album, title string, seconds int) *Track {
	t := &Track{Title: title, Seconds: seconds}
	if album != nil {
		t.SetAlbum(album)
		album.Tracks.Add(t)
	}
	return t
}

func (t *Track) EntityName() string { return "Track" }

func (t *Track) SetTitle(v string) {
	t.Base.Track("Title", t.Title, v)
	t.Title = v
}

func (t *Track) SetSeconds(v int) {
	t.Base.Track("Seconds", t.Seconds, v)
	t.Seconds = v
}

func (t *Track) SetAlbum(al *Album) {
	var id int64
	if al != nil {
		id = al.ID
	}
	t.Base.Track("AlbumId", t.AlbumID, id)
	t.Base.Track("Album", t.Album, al)
	t.AlbumID = id
	t.Album = al
}

func (t *Track) SetAlbumID(v int64) {
	t.Base.Track("AlbumId", t.AlbumID, v)
	t.AlbumID = v
}

// Review points at an album through a mandatory foreign key without cascading
type Review struct {
	entity.Base
	Body    string
	AlbumID int64
	Album   *Album
}

func (r *Review) EntityName() string { return "Review" }

func (r *Review) SetAlbum(al *Album) {
	var id int64
	if al != nil {
		id = al.ID
	}
	r.Track("AlbumId", r.AlbumID, id)
	r.Track("Album", r.Album, al)
	r.AlbumID = id
	r.Album = al
}

// Metadata returns fresh metadata for every catalogue entity
func Metadata() []*schema.EntityMetadata {
	return []*schema.EntityMetadata{
		schema.NewEntityMetadata("Artist", "", []*schema.FieldMetadata{
			{Name: "Name", FieldType: schema.TypeString, Mandatory: true, MaxLength: 100},
			{Name: "Alias", FieldType: schema.TypeString, MaxLength: 100},
		}, []*schema.ListFieldMetadata{
			{Name: "Albums", ItemType: "Album", ReferenceField: "Artist", Cascade: schema.CascadeSaveDelete},
		}),
		schema.NewEntityMetadata("Label", "", []*schema.FieldMetadata{
			{Name: "Name", FieldType: schema.TypeString, Mandatory: true},
			{Name: "Country", FieldType: schema.TypeString, MaxLength: 2},
		}, nil),
		schema.NewEntityMetadata("Album", "", []*schema.FieldMetadata{
			{Name: "Title", FieldType: schema.TypeString, Mandatory: true, MaxLength: 200},
			{Name: "Year", FieldType: schema.TypeInt},
			{Name: "ArtistId", FieldType: schema.TypeInt64, Mandatory: true, ForeignKey: "Artist", IsForeignKey: true},
			{Name: "Artist", FieldType: "Artist", Mandatory: true, Cascade: schema.CascadeSave},
			{Name: "LabelId", FieldType: schema.TypeInt64, ForeignKey: "Label", IsForeignKey: true},
			{Name: "Label", FieldType: "Label"},
		}, []*schema.ListFieldMetadata{
			{Name: "Tracks", ItemType: "Track", ReferenceField: "Album", Cascade: schema.CascadeSaveDelete},
		}),
		schema.NewEntityMetadata("Track", "", []*schema.FieldMetadata{
			{Name: "Title", FieldType: schema.TypeString, Mandatory: true},
			{Name: "Seconds", FieldType: schema.TypeInt},
			{Name: "AlbumId", FieldType: schema.TypeInt64, Mandatory: true, ForeignKey: "Album", IsForeignKey: true},
			{Name: "Album", FieldType: "Album", Mandatory: true},
		}, nil),
		schema.NewEntityMetadata("Review", "", []*schema.FieldMetadata{
			{Name: "Body", FieldType: schema.TypeString},
			{Name: "AlbumId", FieldType: schema.TypeInt64, Mandatory: true, ForeignKey: "Album", IsForeignKey: true},
			{Name: "Album", FieldType: "Album", Mandatory: true},
		}, nil),
	}
}

// Schema returns a validated metadata registry of the catalogue
func Schema() *schema.Registry {
	r := schema.NewRegistry().MustRegister(Metadata()...)
	if err := r.ValidateAll(); err != nil {
		panic(err)
	}
	return r
}

// Descriptors returns the accessor registry of the catalogue
func Descriptors() *entity.Registry {
	return entity.NewRegistry().MustRegister(
		&entity.Descriptor{
			Name: "Artist",
			New:  func() entity.Entity { return NewArtist("") },
			Fields: map[string]entity.FieldAccess{
				"Name":  entity.Scalar(func(a *Artist) string { return a.Name }, (*Artist).SetName),
				"Alias": entity.Scalar(func(a *Artist) string { return a.Alias }, (*Artist).SetAlias),
			},
			Lists: map[string]entity.ListAccess{
				"Albums": entity.Items("Albums", func(a *Artist) *entity.Collection[*Album] { return &a.Albums }),
			},
		},
		&entity.Descriptor{
			Name: "Label",
			New:  func() entity.Entity { return &Label{} },
			Fields: map[string]entity.FieldAccess{
				"Name":    entity.Scalar(func(l *Label) string { return l.Name }, (*Label).SetName),
				"Country": entity.Scalar(func(l *Label) string { return l.Country }, func(l *Label, v string) { l.Country = v }),
			},
		},
		&entity.Descriptor{
			Name: "Album",
			New:  func() entity.Entity { return NewAlbum(nil, "") },
			Fields: map[string]entity.FieldAccess{
				"Title":    entity.Scalar(func(al *Album) string { return al.Title }, (*Album).SetTitle),
				"Year":     entity.Scalar(func(al *Album) int { return al.Year }, (*Album).SetYear),
				"ArtistId": entity.Scalar(func(al *Album) int64 { return al.ArtistID }, (*Album).SetArtistID),
				"Artist":   entity.Reference(func(al *Album) *Artist { return al.Artist }, (*Album).SetArtist),
				"LabelId":  entity.Scalar(func(al *Album) int64 { return al.LabelID }, (*Album).SetLabelID),
				"Label":    entity.Reference(func(al *Album) *Label { return al.Label }, (*Album).SetLabel),
			},
			Lists: map[string]entity.ListAccess{
				"Tracks": entity.Items("Tracks", func(al *Album) *entity.Collection[*Track] { return &al.Tracks }),
			},
		},
		&entity.Descriptor{
			Name: "Track",
			New:  func() entity.Entity { return &Track{} },
			Fields: map[string]entity.FieldAccess{
				"Title":   entity.Scalar(func(t *Track) string { return t.Title }, (*Track).SetTitle),
				"Seconds": entity.Scalar(func(t *Track) int { return t.Seconds }, (*Track).SetSeconds),
				"AlbumId": entity.Scalar(func(t *Track) int64 { return t.AlbumID }, (*Track).SetAlbumID),
				"Album":   entity.Reference(func(t *Track) *Album { return t.Album }, (*Track).SetAlbum),
			},
		},
		&entity.Descriptor{
			Name: "Review",
			New:  func() entity.Entity { return &Review{} },
			Fields: map[string]entity.FieldAccess{
				"Body": entity.Scalar(func(r *Review) string { return r.Body }, func(r *Review, v string) { r.Body = v }),
				"AlbumId": entity.Scalar(func(r *Review) int64 { return r.AlbumID }, func(r *Review, v int64) {
					r.Track("AlbumId", r.AlbumID, v)
					r.AlbumID = v
				}),
				"Album": entity.Reference(func(r *Review) *Album { return r.Album }, (*Review).SetAlbum),
			},
		},
	)
}

// Attach binds each entity to its catalogue metadata
func Attach(reg *schema.Registry, entities ...entity.Entity) {
	for _, e := range entities {
		meta, err := reg.ForEntity(e)
		if err != nil {
			panic(err)
		}
		e.EntityBase().Attach(meta)
	}
}
