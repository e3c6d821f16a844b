package csvfile

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbus/internal/integrations"
	"rbus/internal/model"
	"rbus/internal/store"
)

const sample = `user_id,email,on,type,from_name,from_lat,from_lng,to_name,to_lat,to_lng
1,a@example.com,weekdays,car,Mumbai,19.0760,72.8777,Pune,18.5204,73.8567
2,b@example.com,weekdays and saturday,,Mumbai (near),19.0800,72.8800,Pune (near),18.5244,73.8590
3,c@example.com,weekdays,,Delhi,north,77.2090,Jaipur,26.9124,75.7873
x,d@example.com,all_days,,Delhi,28.6139,77.2090,Jaipur,26.9124,75.7873
4,e@example.com,weekdays,,Nowhere,NaN,72.8777,Pune,18.5204,+Inf
`

func TestSourceBatches(t *testing.T) {
	src := New("sample", strings.NewReader(sample))
	src.BatchSize = 3
	ctx := context.Background()

	first, err := src.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, 2, first[0].Line)
	assert.Equal(t, model.User{ID: 1, Email: "a@example.com"}, first[0].Owner)
	assert.Equal(t, "car", first[0].Input.Type)
	assert.Equal(t, 73.8567, first[0].Input.Destination.Lng)

	second, err := src.Next(ctx)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, 5, second[0].Line)

	_, err = src.Next(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestSourceMissingColumn(t *testing.T) {
	src := New("bad", strings.NewReader("user_id,email,on\n1,a@b.c,weekdays\n"))
	_, err := src.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from_name")
}

func TestImportIntoMemory(t *testing.T) {
	st := store.NewMemory()
	var saved []int64
	im := &integrations.Importer{
		Sink: st,
		AfterSave: func(_ context.Context, tr model.Trip) error {
			saved = append(saved, tr.ID)
			return nil
		},
	}
	sum, err := im.Run(context.Background(), New("sample", strings.NewReader(sample)))
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Imported)
	assert.Len(t, saved, 2)
	require.Len(t, sum.Rejected, 3)
	assert.Equal(t, 4, sum.Rejected[0].Line)
	var verr *model.ValidationError
	require.ErrorAs(t, sum.Rejected[0], &verr)
	assert.Contains(t, verr.Fields, "from.lat")
	assert.Equal(t, 5, sum.Rejected[1].Line)
	assert.ErrorIs(t, sum.Rejected[1], integrations.ErrNoOwner)
	assert.Equal(t, 6, sum.Rejected[2].Line)
	require.ErrorAs(t, sum.Rejected[2], &verr)
	assert.Contains(t, verr.Fields, "from.lat")
	assert.Contains(t, verr.Fields, "to.lng")

	trips, err := st.AllActive(context.Background())
	require.NoError(t, err)
	require.Len(t, trips, 2)
	assert.Equal(t, model.WeekdaysAndSaturday, trips[1].On)
	u, err := st.GetUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", u.Email)
}
