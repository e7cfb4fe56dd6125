package record

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langchou/locationd/internal/models"
	"github.com/langchou/locationd/internal/parcel"
)

func entry(uid, pid int32, name, uuid string) WorkEntry {
	return WorkEntry{Uid: uid, Pid: pid, PackageName: name, UUID: uuid, TimeInterval: 1}
}

func TestWorkRecord_AddIsIdempotent(t *testing.T) {
	w := New()

	assert.True(t, w.Add(entry(100, 200, "app.a", "u1")))
	assert.False(t, w.Add(entry(100, 200, "app.a", "u1")))
	assert.Equal(t, 1, w.Size())

	// pid 不属于键
	assert.False(t, w.Add(entry(100, 999, "app.a", "u1")))
	assert.Equal(t, 1, w.Size())

	assert.True(t, w.Add(entry(100, 200, "app.a", "u2")))
	assert.True(t, w.Add(entry(101, 200, "app.a", "u1")))
	assert.Equal(t, 3, w.Size())
}

func TestWorkRecord_Scenario(t *testing.T) {
	w := New()
	require.True(t, w.IsEmpty())

	assert.True(t, w.Add(entry(100, 200, "app.a", "u1")))
	assert.False(t, w.Add(entry(100, 200, "app.a", "u1")))
	assert.Equal(t, 1, w.Size())

	assert.True(t, w.Add(entry(101, 201, "app.b", "u2")))
	assert.Equal(t, 2, w.Size())

	assert.True(t, w.Remove(100, 200, "app.a", "u1"))
	assert.Equal(t, 1, w.Size())
	assert.Equal(t, int32(101), w.GetUid(0))
}

func TestWorkRecord_AddRemoveInverse(t *testing.T) {
	w := New()
	w.Add(entry(1, 1, "base", ""))

	tests := []WorkEntry{
		entry(100, 200, "app.a", "u1"),
		entry(0, 0, "", ""),
		entry(-5, 7, "app.neg", "x"),
	}
	for _, e := range tests {
		t.Run(fmt.Sprintf("%d/%s/%s", e.Uid, e.PackageName, e.UUID), func(t *testing.T) {
			before := w.Size()
			assert.True(t, w.Add(e))
			assert.True(t, w.Remove(e.Uid, e.Pid, e.PackageName, e.UUID))
			assert.Equal(t, before, w.Size())
			assert.False(t, w.Find(e.Uid, e.PackageName, e.UUID))
		})
	}
}

func TestWorkRecord_RemoveMissing(t *testing.T) {
	w := New()
	w.Add(entry(100, 200, "app.a", "u1"))

	assert.False(t, w.Remove(100, 200, "app.a", "other"))
	assert.False(t, w.Remove(101, 200, "app.a", "u1"))
	assert.False(t, w.RemoveByName("app.z"))
	assert.Equal(t, 1, w.Size())
}

func TestWorkRecord_RemoveByNameFirstMatch(t *testing.T) {
	w := New()
	w.Add(entry(1, 1, "shared", "a"))
	w.Add(entry(2, 2, "shared", "b"))
	w.Add(entry(3, 3, "other", "c"))

	assert.True(t, w.RemoveByName("shared"))
	assert.Equal(t, 2, w.Size())
	assert.Equal(t, int32(2), w.GetUid(0))
	assert.Equal(t, int32(3), w.GetUid(1))
}

func TestWorkRecord_Accessors(t *testing.T) {
	w := New()
	w.Add(WorkEntry{Uid: 7, Pid: 8, PackageName: "app", TimeInterval: 30, UUID: "id", NlpRequestType: models.NlpRequestTypeAccuracy})

	assert.Equal(t, int32(7), w.GetUid(0))
	assert.Equal(t, int32(8), w.GetPid(0))
	assert.Equal(t, "app", w.GetName(0))
	assert.Equal(t, int32(30), w.GetTimeInterval(0))
	assert.Equal(t, "id", w.GetUuid(0))
	assert.Equal(t, models.NlpRequestTypeAccuracy, w.GetNlpRequestType(0))

	for _, i := range []int{-1, 1, 100} {
		assert.Equal(t, int32(-1), w.GetUid(i))
		assert.Equal(t, int32(-1), w.GetPid(i))
		assert.Equal(t, "", w.GetName(i))
		assert.Equal(t, int32(-1), w.GetTimeInterval(i))
		assert.Equal(t, "", w.GetUuid(i))
		assert.Equal(t, int32(-1), w.GetNlpRequestType(i))
		_, ok := w.Entry(i)
		assert.False(t, ok)
	}
}

func TestWorkRecord_ClearAndSet(t *testing.T) {
	src := New()
	src.Add(entry(1, 1, "a", "1"))
	src.Add(entry(2, 2, "b", "2"))

	dst := New()
	dst.Add(entry(9, 9, "z", "9"))
	dst.Set(src)

	require.Equal(t, 2, dst.Size())
	assert.Equal(t, "a", dst.GetName(0))
	assert.Equal(t, "b", dst.GetName(1))
	assert.False(t, dst.Find(9, "z", "9"))

	// 快照与源相互独立
	src.Remove(1, 1, "a", "1")
	assert.Equal(t, 2, dst.Size())

	dst.Set(dst)
	assert.Equal(t, 2, dst.Size())

	dst.Clear()
	assert.True(t, dst.IsEmpty())
}

func TestWorkRecord_UpdateConfig(t *testing.T) {
	w := New()
	cfg := models.NewRequestConfig()
	w.Add(WorkEntry{Uid: 1, Pid: 1, PackageName: "a", UUID: "1", TimeInterval: cfg.TimeInterval, Config: cfg})

	next := models.NewRequestConfigWithScenario(models.SceneNavigation)
	next.TimeInterval = 10
	assert.True(t, w.Update(1, "a", "1", next, models.NlpRequestTypeAccuracy))
	assert.False(t, w.Update(2, "a", "1", next, models.NlpRequestTypeAccuracy))

	e, ok := w.Entry(0)
	require.True(t, ok)
	assert.Equal(t, int32(10), e.TimeInterval)
	assert.Equal(t, models.SceneNavigation, e.Config.Scenario)
	assert.Equal(t, models.NlpRequestTypeAccuracy, w.GetNlpRequestType(0))

	// 调用方后续修改不影响已保存的配置
	next.TimeInterval = 99
	assert.Equal(t, int32(10), w.GetTimeInterval(0))
}

func TestWorkRecord_MinTimeInterval(t *testing.T) {
	w := New()
	assert.Equal(t, int32(0), w.MinTimeInterval())

	w.Add(WorkEntry{Uid: 1, PackageName: "a", TimeInterval: 30})
	w.Add(WorkEntry{Uid: 2, PackageName: "b", TimeInterval: 0})
	w.Add(WorkEntry{Uid: 3, PackageName: "c", TimeInterval: 5})
	assert.Equal(t, int32(5), w.MinTimeInterval())
}

func TestWorkRecord_MarshallingRoundTrip(t *testing.T) {
	w := New()
	w.SetDeviceID("device-1")
	for i := 0; i < MaxRecordCount; i++ {
		w.Add(WorkEntry{
			Uid:            int32(1000 + i),
			Pid:            int32(2000 + i),
			PackageName:    fmt.Sprintf("com.example.app%d", i),
			TimeInterval:   int32(i),
			UUID:           fmt.Sprintf("uuid-%d", i),
			NlpRequestType: int32(i % 2),
		})
	}

	p := parcel.NewWriter()
	require.True(t, w.Marshalling(p))

	got, err := Unmarshalling(parcel.NewReader(p.Bytes()))
	require.NoError(t, err)
	require.Equal(t, w.Size(), got.Size())
	assert.Equal(t, "device-1", got.DeviceID())

	want := w.Entries()
	for i, e := range got.Entries() {
		assert.Equal(t, want[i].Uid, e.Uid)
		assert.Equal(t, want[i].Pid, e.Pid)
		assert.Equal(t, want[i].PackageName, e.PackageName)
		assert.Equal(t, want[i].TimeInterval, e.TimeInterval)
		assert.Equal(t, want[i].UUID, e.UUID)
		assert.Equal(t, want[i].NlpRequestType, e.NlpRequestType)
		require.NotNil(t, e.Config)
		assert.Equal(t, want[i].TimeInterval, e.Config.TimeInterval)
	}
}

func TestWorkRecord_ReadClampsCount(t *testing.T) {
	p := parcel.NewWriter()
	p.WriteInt32(1000)
	var entrySize int
	for i := 0; i < 1000; i++ {
		before := p.Len()
		p.WriteInt32(int32(i))
		p.WriteInt32(int32(i))
		p.WriteString("app")
		p.WriteInt32(1)
		p.WriteString(fmt.Sprintf("%04d", i))
		p.WriteInt32(0)
		entrySize = p.Len() - before
	}
	p.WriteString("device")

	r := parcel.NewReader(p.Bytes())
	w := New()
	require.NoError(t, w.ReadFromParcel(r))

	assert.Equal(t, MaxRecordCount, w.Size())
	assert.Equal(t, 4+MaxRecordCount*entrySize, r.Position())
	assert.Equal(t, "", w.DeviceID())
}

func TestWorkRecord_ReadErrors(t *testing.T) {
	t.Run("negative count", func(t *testing.T) {
		p := parcel.NewWriter()
		p.WriteInt32(-1)
		w := New()
		err := w.ReadFromParcel(parcel.NewReader(p.Bytes()))
		assert.ErrorIs(t, err, ErrInvalidCount)
	})

	t.Run("truncated leaves record untouched", func(t *testing.T) {
		src := New()
		src.Add(entry(1, 2, "a", "u"))
		p := parcel.NewWriter()
		src.Marshalling(p)
		data := p.Bytes()[:p.Len()-3]

		w := New()
		w.Add(entry(9, 9, "keep", "k"))
		err := w.ReadFromParcel(parcel.NewReader(data))
		assert.ErrorIs(t, err, parcel.ErrUnderflow)
		assert.Equal(t, 1, w.Size())
		assert.Equal(t, "keep", w.GetName(0))
	})

	t.Run("count larger than data", func(t *testing.T) {
		p := parcel.NewWriter()
		p.WriteInt32(3)
		p.WriteInt32(1)
		_, err := Unmarshalling(parcel.NewReader(p.Bytes()))
		assert.ErrorIs(t, err, parcel.ErrUnderflow)
	})
}

func TestWorkRecord_MarshallingWorkRecord(t *testing.T) {
	w := New()
	w.Add(entry(10, 1, "com.a", "x"))
	w.Add(entry(11, 2, "应用.b", "y"))

	p := parcel.NewWriter()
	require.True(t, w.MarshallingWorkRecord(p))

	r := parcel.NewReader(p.Bytes())
	n, _ := r.ReadInt32()
	assert.Equal(t, int32(2), n)
	n, _ = r.ReadInt32()
	assert.Equal(t, int32(2), n)

	got, err := ReadWorkRecord(parcel.NewReader(p.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 2, got.Size())
	assert.Equal(t, int32(10), got.GetUid(0))
	assert.Equal(t, "com.a", got.GetName(0))
	assert.Equal(t, int32(11), got.GetUid(1))
	assert.Equal(t, "应用.b", got.GetName(1))
	assert.Equal(t, "", got.GetUuid(1))

	// 完整格式的读取方无法解析精简格式
	_, err = Unmarshalling(parcel.NewReader(p.Bytes()))
	assert.Error(t, err)
}

func TestWorkRecord_MarshallingWorkRecordInvalidName(t *testing.T) {
	w := New()
	w.Add(entry(10, 1, "com.\xffa", "x"))
	assert.False(t, w.MarshallingWorkRecord(parcel.NewWriter()))
}

func TestReadWorkRecord_RejectsInconsistentCounts(t *testing.T) {
	p := parcel.NewWriter()
	p.WriteInt32(1)
	p.WriteInt32(1)
	p.WriteInt32(10)
	p.WriteInt32(2)
	p.WriteString16("a")
	p.WriteString16("b")

	_, err := ReadWorkRecord(parcel.NewReader(p.Bytes()))
	assert.ErrorIs(t, err, ErrInvalidCount)

	p = parcel.NewWriter()
	p.WriteInt32(MaxRecordCount + 1)
	_, err = ReadWorkRecord(parcel.NewReader(p.Bytes()))
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestWorkRecord_String(t *testing.T) {
	w := New()
	assert.Equal(t, "[]", w.String())

	w.Add(WorkEntry{Uid: 1, Pid: 2, PackageName: "a", TimeInterval: 3, UUID: "u"})
	w.Add(WorkEntry{Uid: 4, Pid: 5, PackageName: "b", TimeInterval: 6, UUID: "v"})
	assert.Equal(t, "[1,2,a,3,u; 4,5,b,6,v]", w.String())
}

func TestDiff(t *testing.T) {
	prev := New()
	prev.Add(entry(1, 1, "a", "1"))
	prev.Add(entry(2, 2, "b", "2"))

	next := New()
	next.Set(prev)
	next.Remove(1, 1, "a", "1")
	next.Add(entry(3, 3, "c", "3"))

	added, removed := Diff(prev, next)
	require.Len(t, added, 1)
	require.Len(t, removed, 1)
	assert.Equal(t, "c", added[0].PackageName)
	assert.Equal(t, "a", removed[0].PackageName)

	added, removed = Diff(next, next)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestWorkRecord_ConcurrentAccess(t *testing.T) {
	w := New()
	snapshot := New()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				name := fmt.Sprintf("app%d", g)
				uuid := fmt.Sprintf("%d", i)
				w.Add(entry(int32(g), 0, name, uuid))
				snapshot.Set(w)
				_ = w.String()
				w.Remove(int32(g), 0, name, uuid)
			}
		}(g)
	}
	wg.Wait()

	assert.True(t, w.IsEmpty())
}
