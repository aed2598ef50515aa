package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanScript(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{
			name: "duplicate imports collapse",
			in:   "import { test } from '@playwright/test';\nimport { test, expect } from '@playwright/test';\n\ntest('a', async () => {});",
			want: "import { test, expect } from '@playwright/test';\ntest('a', async () => {});",
		},
		{
			name: "single import normalised",
			in:   "  import { expect } from '@playwright/test'\ntest('a', async () => {});\n",
			want: "import { test, expect } from '@playwright/test';\ntest('a', async () => {});",
		},
		{
			name: "no imports left alone",
			in:   "\n test('a', async () => {});\n",
			want: "test('a', async () => {});",
		},
		{
			name: "other modules untouched",
			in:   "import { foo } from './foo';\ntest('a', () => {});",
			want: "import { foo } from './foo';\ntest('a', () => {});",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanScript(tt.in))
		})
	}
}
